package cluster

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Kind discriminates the two result variants. Downstream consumers
// switch on it instead of parsing id strings.
type Kind uint8

const (
	KindSingleton Kind = iota
	KindCluster
)

func (k Kind) String() string {
	if k == KindCluster {
		return "cluster"
	}
	return "singleton"
}

// Result is one renderable marker: either a singleton wrapping an
// input point unchanged, or a cluster of two or more nearby points
// with a centroid. For clusters, Size == len(MemberIDs) always.
type Result struct {
	Kind      Kind     `json:"kind"`
	ID        string   `json:"id"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Size      int      `json:"size"`
	MemberIDs []string `json:"memberIds,omitempty"`
	Point     *Point   `json:"point,omitempty"`
}

// Members returns the ids of every input point this result covers.
func (r Result) Members() []string {
	if r.Kind == KindCluster {
		return r.MemberIDs
	}
	if r.Point != nil {
		return []string{r.Point.ID}
	}
	return nil
}

func singletonResult(p Point) Result {
	pt := p
	return Result{
		Kind:  KindSingleton,
		ID:    p.ID,
		Lat:   p.Lat,
		Lng:   p.Lng,
		Size:  1,
		Point: &pt,
	}
}

func clusterResult(members []Point) Result {
	var sumLat, sumLng float64
	ids := make([]string, len(members))
	for i, m := range members {
		sumLat += m.Lat
		sumLng += m.Lng
		ids[i] = m.ID
	}
	n := float64(len(members))
	lat := sumLat / n
	lng := sumLng / n
	sort.Strings(ids)

	return Result{
		Kind:      KindCluster,
		ID:        clusterID(ids, lat, lng),
		Lat:       lat,
		Lng:       lng,
		Size:      len(ids),
		MemberIDs: ids,
	}
}

// clusterID derives a stable id from the sorted member ids and the
// quantized center. Re-clustering identical input must yield the
// same id, so no counters or random sources are involved.
func clusterID(sortedIDs []string, lat, lng float64) string {
	h := fnv.New64a()
	for _, id := range sortedIDs {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%.6f,%.6f", lat, lng)
	return fmt.Sprintf("c%016x", h.Sum64())
}

// validResult is the shape check applied to cache hits. Anything
// that fails it is treated as a miss and recomputed.
func validResult(r Result) bool {
	switch r.Kind {
	case KindSingleton:
		return r.Point != nil && r.Size == 1
	case KindCluster:
		return r.Size >= 2 && r.Size == len(r.MemberIDs) && r.ID != ""
	default:
		return false
	}
}
