package cluster

// Partition splits clustering output by viewport membership. The
// renderer delivers InViewport synchronously and streams the rest.
type Partition struct {
	InViewport    []Result
	OutOfViewport []Result
}

// PartitionViewport classifies each result by its representative
// coordinate (cluster center or singleton position). Nil bounds put
// everything in the viewport: missing geometry must never hide
// content.
func PartitionViewport(results []Result, bounds Bounds) Partition {
	if bounds == nil {
		return Partition{InViewport: results}
	}

	var p Partition
	for _, r := range results {
		if InBounds(r.Lat, r.Lng, bounds) {
			p.InViewport = append(p.InViewport, r)
		} else {
			p.OutOfViewport = append(p.OutOfViewport, r)
		}
	}
	return p
}
