package cluster

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Snapshots persist the ingested point set so a server restart does
// not need to re-fetch from the ingestion layer. Clustering output
// is never persisted; it is always recomputed from points.

// SnapshotInfo describes one saved snapshot file.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	NumPoints int       `json:"numPoints"`
	Timestamp time.Time `json:"timestamp"`
	FileSize  int64     `json:"fileSize"`
}

// SnapshotFilename builds a snapshot path in dir. Format:
// snapshot-{numPoints}p-{timestamp}-{id}.zst
func SnapshotFilename(dir string, numPoints int) string {
	timestamp := time.Now().Format("20060102-150405")
	id := uuid.New().String()[:8]
	return filepath.Join(dir, fmt.Sprintf("snapshot-%dp-%s-%s.zst", numPoints, timestamp, id))
}

// SavePoints writes a zstd-compressed snapshot of the point set.
func SavePoints(filename string, points []Point) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	binary.Write(enc, binary.LittleEndian, uint32(len(points)))

	for _, p := range points {
		if err := writePoint(enc, p); err != nil {
			enc.Close()
			return err
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

// LoadPoints reads a snapshot written by SavePoints.
func LoadPoints(filename string) ([]Point, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(bufio.NewReaderSize(file, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	var count uint32
	if err := binary.Read(dec, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read point count: %w", err)
	}

	points := make([]Point, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := readPoint(dec)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

func writePoint(w io.Writer, p Point) error {
	binary.Write(w, binary.LittleEndian, uint32(len(p.ID)))
	w.Write([]byte(p.ID))
	binary.Write(w, binary.LittleEndian, p.Lat)
	binary.Write(w, binary.LittleEndian, p.Lng)

	var payload []byte
	if p.Payload != nil {
		b, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", p.ID, err)
		}
		payload = b
	}
	binary.Write(w, binary.LittleEndian, uint32(len(payload)))
	if len(payload) > 0 {
		w.Write(payload)
	}
	return nil
}

func readPoint(r io.Reader) (Point, error) {
	var p Point

	var idLen uint32
	if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
		return p, fmt.Errorf("failed to read point id length: %w", err)
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(r, idBytes); err != nil {
		return p, fmt.Errorf("failed to read point id: %w", err)
	}
	p.ID = string(idBytes)

	binary.Read(r, binary.LittleEndian, &p.Lat)
	binary.Read(r, binary.LittleEndian, &p.Lng)

	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return p, fmt.Errorf("failed to read payload length: %w", err)
	}
	if payloadLen > 0 {
		payloadBytes := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payloadBytes); err != nil {
			return p, fmt.Errorf("failed to read payload: %w", err)
		}
		if err := json.Unmarshal(payloadBytes, &p.Payload); err != nil {
			return p, fmt.Errorf("failed to unmarshal payload for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

// ListSnapshots returns the snapshots in dir, newest first.
func ListSnapshots(dir string) ([]SnapshotInfo, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	snapshots := make([]SnapshotInfo, 0)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".zst" {
			continue
		}
		fsInfo, err := file.Info()
		if err != nil {
			continue
		}

		// Format: snapshot-{numPoints}p-{timestamp}-{id}.zst
		name := strings.TrimSuffix(file.Name(), ".zst")
		parts := strings.Split(name, "-")
		if len(parts) != 5 || parts[0] != "snapshot" {
			continue
		}
		numPoints, err := strconv.Atoi(strings.TrimSuffix(parts[1], "p"))
		if err != nil {
			continue
		}
		timestamp, err := time.Parse("20060102-150405", parts[2]+"-"+parts[3])
		if err != nil {
			continue
		}

		snapshots = append(snapshots, SnapshotInfo{
			ID:        parts[4],
			NumPoints: numPoints,
			Timestamp: timestamp,
			FileSize:  fsInfo.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// FindSnapshotFile locates a snapshot in dir by its id.
func FindSnapshotFile(dir, id string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot directory: %w", err)
	}
	for _, file := range files {
		if strings.Contains(file.Name(), id) && strings.HasSuffix(file.Name(), ".zst") {
			return filepath.Join(dir, file.Name()), nil
		}
	}
	return "", fmt.Errorf("no snapshot found with id %s", id)
}

// MMapWriter handles writing to memory-mapped files.
type MMapWriter struct {
	data   mmap.MMap
	offset int
}

func NewMMapWriter(data mmap.MMap) *MMapWriter {
	return &MMapWriter{data: data}
}

func (w *MMapWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], v)
	w.offset += 4
}

func (w *MMapWriter) WriteFloat64(v float64) {
	binary.LittleEndian.PutUint64(w.data[w.offset:], math.Float64bits(v))
	w.offset += 8
}

func (w *MMapWriter) WriteBytes(b []byte) {
	copy(w.data[w.offset:], b)
	w.offset += len(b)
}

// MMapReader handles reading from memory-mapped files.
type MMapReader struct {
	data   mmap.MMap
	offset int
}

func NewMMapReader(data mmap.MMap) *MMapReader {
	return &MMapReader{data: data}
}

func (r *MMapReader) ReadUint32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v
}

func (r *MMapReader) ReadFloat64() float64 {
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return math.Float64frombits(v)
}

func (r *MMapReader) ReadBytes(n int) []byte {
	b := make([]byte, n)
	copy(b, r.data[r.offset:r.offset+n])
	r.offset += n
	return b
}

// snapshotSize calculates the byte size of the mmap layout.
func snapshotSize(points []Point) (int64, [][]byte, error) {
	size := int64(4) // point count
	payloads := make([][]byte, len(points))
	for i, p := range points {
		size += 4 + int64(len(p.ID)) // id length + id
		size += 16                   // lat + lng
		size += 4                    // payload length
		if p.Payload != nil {
			b, err := json.Marshal(p.Payload)
			if err != nil {
				return 0, nil, fmt.Errorf("failed to marshal payload for %s: %w", p.ID, err)
			}
			payloads[i] = b
			size += int64(len(b))
		}
	}
	return size, payloads, nil
}

// SavePointsMMap writes an uncompressed memory-mapped snapshot.
// Faster to load than the zstd form; used for local working sets
// where disk size does not matter.
func SavePointsMMap(filename string, points []Point) error {
	size, payloads, err := snapshotSize(points)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	mmapData, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	writer := NewMMapWriter(mmapData)
	writer.WriteUint32(uint32(len(points)))
	for i, p := range points {
		writer.WriteUint32(uint32(len(p.ID)))
		writer.WriteBytes([]byte(p.ID))
		writer.WriteFloat64(p.Lat)
		writer.WriteFloat64(p.Lng)
		writer.WriteUint32(uint32(len(payloads[i])))
		writer.WriteBytes(payloads[i])
	}

	return mmapData.Flush()
}

// LoadPointsMMap reads a snapshot written by SavePointsMMap.
func LoadPointsMMap(filename string) ([]Point, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	mmapData, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	reader := NewMMapReader(mmapData)
	count := reader.ReadUint32()

	points := make([]Point, 0, count)
	for i := uint32(0); i < count; i++ {
		var p Point
		idLen := reader.ReadUint32()
		p.ID = string(reader.ReadBytes(int(idLen)))
		p.Lat = reader.ReadFloat64()
		p.Lng = reader.ReadFloat64()

		payloadLen := reader.ReadUint32()
		if payloadLen > 0 {
			payloadBytes := reader.ReadBytes(int(payloadLen))
			if err := json.Unmarshal(payloadBytes, &p.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", p.ID, err)
			}
		}
		points = append(points, p)
	}
	return points, nil
}
