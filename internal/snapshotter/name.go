package snapshotter

import (
	"fmt"
	"time"
)

// SnapshotName identifies one snapshot attempt: the clock reading taken
// when the attempt started, the attempt's sequence number on this node,
// and the node that started it. Values are immutable and never reused
// across attempts.
type SnapshotName struct {
	CreatedAt time.Time
	Seq       uint64
	Node      string
}

// NewSnapshotName normalizes the timestamp to UTC. The sequence number
// is strictly monotonic per node, so names stay distinct even when two
// attempts start at the same clock reading (an immediate retry, or any
// clock too coarse to advance between attempts).
func NewSnapshotName(createdAt time.Time, seq uint64, node string) SnapshotName {
	return SnapshotName{
		CreatedAt: createdAt.UTC(),
		Seq:       seq,
		Node:      node,
	}
}

func (n SnapshotName) IsZero() bool {
	return n.CreatedAt.IsZero() && n.Seq == 0 && n.Node == ""
}

// String renders the storage-facing snapshot label.
func (n SnapshotName) String() string {
	return fmt.Sprintf("%d-%d-%s", n.CreatedAt.UnixNano(), n.Seq, n.Node)
}
