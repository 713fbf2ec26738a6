package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           int
	LogLevel       string
	CacheType      string
	CacheEntries   int
	CacheTTL       time.Duration
	SnapshotDir    string
	BaseRadius     float64
	DisableZoom    float64
	MaxMarkers     int
	ChunkMin       int
	ChunkMax       int
	FrameInterval  time.Duration
	OffloadTimeout time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		CacheType:      getEnv("CACHE", "memory"),
		CacheEntries:   getEnvInt("CACHE_ENTRIES", 10),
		CacheTTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
		SnapshotDir:    getEnv("SNAPSHOT_DIR", "snapshots"),
		BaseRadius:     getEnvFloat("BASE_RADIUS", 8.0),
		DisableZoom:    getEnvFloat("DISABLE_ZOOM", 15),
		MaxMarkers:     getEnvInt("MAX_MARKERS", 100),
		ChunkMin:       getEnvInt("CHUNK_MIN", 10),
		ChunkMax:       getEnvInt("CHUNK_MAX", 50),
		FrameInterval:  getEnvDuration("FRAME_INTERVAL", 16*time.Millisecond),
		OffloadTimeout: getEnvDuration("OFFLOAD_TIMEOUT", 5*time.Second),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
