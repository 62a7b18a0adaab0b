package model

import (
	"fmt"
	"math"
)

// Handle is a dense, engine-local identifier for a point.
// Handles are assigned on first insert and never reused.
type Handle uint32

// ClusterID identifies a selected flat cluster.
type ClusterID int64

// Noise is the cluster ID carried by points outside every selected cluster.
const Noise ClusterID = -1

// String returns a string representation of the cluster ID.
func (c ClusterID) String() string {
	if c == Noise {
		return "NOISE"
	}
	return fmt.Sprintf("C%d", int64(c))
}

// Record is a point as delivered by the embedding producer.
type Record struct {
	// ID is the stable identifier. A record with a known ID replaces the point.
	ID string `msgpack:"id" json:"id"`
	// Coarse is the fixed-length vector used for candidate shortlisting.
	Coarse []float32 `msgpack:"coarse" json:"coarse"`
	// PreciseRef is resolved by the distance oracle for precise rescoring.
	PreciseRef string `msgpack:"ref" json:"precise_ref"`
}

// SequencedRecord is a record together with its acknowledged insertion sequence.
type SequencedRecord struct {
	Seq    uint64 `msgpack:"seq"`
	Record Record `msgpack:"rec"`
}

// Assignment is the published cluster membership of a point.
type Assignment struct {
	PointID     string    `msgpack:"point_id" json:"point_id"`
	ClusterID   ClusterID `msgpack:"cluster_id" json:"cluster_id"`
	Probability float64   `msgpack:"probability" json:"membership_probability"`
	// Degraded marks assignments derived from coarse-only fallback distances.
	Degraded bool `msgpack:"degraded" json:"degraded"`
	// Seq is the insertion sequence of the point version this assignment covers.
	Seq uint64 `msgpack:"seq" json:"seq"`
}

// IsNoise reports whether the point is outside every selected cluster.
func (a Assignment) IsNoise() bool {
	return a.ClusterID == Noise
}

// Cluster is a selected flat cluster.
type Cluster struct {
	ID        ClusterID `json:"cluster_id"`
	Members   []string  `json:"members"`
	Stability float64   `json:"stability"`
	// BirthDistance is the merge distance at which the cluster appears.
	BirthDistance float64 `json:"birth_distance"`
	// DeathDistance is the merge distance at which the cluster splits or its last member falls out.
	DeathDistance float64 `json:"death_distance"`
}

// Neighbor is an entry of a point's precise neighbor list.
type Neighbor struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
	Degraded bool    `json:"degraded"`
}

// Merge is a dendrogram merge event.
//
// Left and Right address either a leaf (a value below the number of points,
// equal to the point handle) or an earlier merge (n + merge index).
type Merge struct {
	Left     uint32  `msgpack:"l" json:"left"`
	Right    uint32  `msgpack:"r" json:"right"`
	Distance float64 `msgpack:"d" json:"distance"`
	Size     int     `msgpack:"s" json:"size"`
}

// Infinity is the merge distance used to join disconnected components.
var Infinity = math.Inf(1)

// PointState is the processing state of a point.
type PointState uint8

const (
	StatePending PointState = iota
	StateIndexed
	StateReachabilityCurrent
	StateAssigned
)

func (s PointState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateIndexed:
		return "INDEXED"
	case StateReachabilityCurrent:
		return "REACHABILITY_CURRENT"
	case StateAssigned:
		return "ASSIGNED"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Health is a point-in-time view of engine health.
type Health struct {
	OracleAvailable bool   `json:"oracle_available"`
	DegradedPoints  int    `json:"degraded_points"`
	Points          int    `json:"points"`
	Clusters        int    `json:"clusters"`
	Rebuilds        uint64 `json:"rebuilds"`
	LastSeq         uint64 `json:"last_seq"`
	PendingEmits    int    `json:"pending_emits"`
}
