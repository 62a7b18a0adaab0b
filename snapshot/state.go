package snapshot

import (
	"github.com/hupe1980/fishdbc/internal/hnsw"
	"github.com/hupe1980/fishdbc/internal/mst"
	"github.com/hupe1980/fishdbc/internal/reach"
	"github.com/hupe1980/fishdbc/model"
)

// Config records the engine parameters a snapshot was taken with. Restoring
// into an engine with a different Dimension or Metric is rejected.
type Config struct {
	Dimension      int     `msgpack:"dim"`
	Metric         string  `msgpack:"metric"`
	M              int     `msgpack:"m"`
	EF             int     `msgpack:"ef"`
	KRescale       int     `msgpack:"k_rescale"`
	MinSamples     int     `msgpack:"min_samples"`
	MinClusterSize int     `msgpack:"min_cluster_size"`
	Transform      string  `msgpack:"transform"`
	Rebuild        float64 `msgpack:"rebuild_threshold"`
}

// Point is the persisted form of a point; its handle is its index in State.Points.
type Point struct {
	ID     string    `msgpack:"id"`
	Ref    string    `msgpack:"ref"`
	Seq    uint64    `msgpack:"seq"`
	First  uint64    `msgpack:"first"`
	Coarse []float32 `msgpack:"coarse,omitempty"`
}

// State is the snapshot body.
type State struct {
	CreatedAt int64  `msgpack:"created_at"`
	Config    Config `msgpack:"config"`
	// Seq is the last insertion sequence reflected in the snapshot.
	Seq      uint64 `msgpack:"seq"`
	Cycles   uint64 `msgpack:"cycles"`
	Rebuilds uint64 `msgpack:"rebuilds"`

	Points     []Point            `msgpack:"points"`
	Index      hnsw.State         `msgpack:"index"`
	Reach      reach.State        `msgpack:"reach"`
	Forest     []mst.Edge         `msgpack:"forest"`
	Dendrogram []model.Merge      `msgpack:"dendrogram"`
	Emitted    []model.Assignment `msgpack:"emitted"`

	// Touched and Degraded are roaring bitmaps in portable serialization.
	Touched  []byte `msgpack:"touched,omitempty"`
	Degraded []byte `msgpack:"degraded,omitempty"`
}

// Summary describes a snapshot without its bulk sections.
type Summary struct {
	Name        string
	Header      Header
	CreatedAt   int64
	Config      Config
	Seq         uint64
	Rebuilds    uint64
	Points      int
	ForestEdges int
	Merges      int
	Clusters    int
	Noise       int
}

// Summarize derives a Summary from a decoded state.
func Summarize(name string, h Header, st *State) Summary {
	s := Summary{
		Name:        name,
		Header:      h,
		CreatedAt:   st.CreatedAt,
		Config:      st.Config,
		Seq:         st.Seq,
		Rebuilds:    st.Rebuilds,
		Points:      len(st.Points),
		ForestEdges: len(st.Forest),
		Merges:      len(st.Dendrogram),
	}
	clusters := make(map[model.ClusterID]struct{})
	for _, a := range st.Emitted {
		if a.IsNoise() {
			s.Noise++
			continue
		}
		clusters[a.ClusterID] = struct{}{}
	}
	s.Clusters = len(clusters)
	return s
}
