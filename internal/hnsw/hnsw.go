package hnsw

import (
	"context"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/internal/searcher"
	"github.com/hupe1980/fishdbc/model"
)

const (
	// layerNormalizationBase is the base constant for exponential layer probability distribution.
	layerNormalizationBase = 1.0

	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// maxLevelCap bounds the randomly drawn layer.
	maxLevelCap = 16

	// DefaultM is the default number of bidirectional links.
	DefaultM = 16

	// DefaultEF is the default size of the dynamic candidate list.
	DefaultEF = 200
)

// Options represents the options for configuring HNSW.
type Options struct {
	Dimension    int
	M            int
	EF           int
	Heuristic    bool
	DistanceType distance.Metric
	RandomSeed   *int64
}

// DefaultOptions contains the default options for HNSW.
var DefaultOptions = Options{
	Dimension:    0,
	M:            DefaultM,
	EF:           DefaultEF,
	Heuristic:    true,
	DistanceType: distance.MetricL2,
}

// node is treated as immutable once it is reachable from a published graph.
type node struct {
	level int
	vec   []float32
	links [][]Neighbor
}

func (n *node) clone() *node {
	c := &node{level: n.level, vec: n.vec, links: make([][]Neighbor, len(n.links))}
	for i, l := range n.links {
		c.links[i] = slices.Clone(l)
	}
	return c
}

func (n *node) linksAt(level int) []Neighbor {
	if n == nil || level > n.level {
		return nil
	}
	return n.links[level]
}

// graph holds the state of the HNSW index.
type graph struct {
	nodes      []*node
	entryPoint model.Handle
	maxLevel   int
	count      int
}

func (g *graph) get(id model.Handle) *node {
	if int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// DistFunc computes the distance from a query to a target node.
type DistFunc func(id model.Handle) float32

// HNSW represents the Hierarchical Navigable Small World graph.
type HNSW struct {
	// Last committed graph, read by concurrent queries.
	published atomic.Pointer[graph]

	// Writer-owned state.
	work  *graph
	owned *roaring.Bitmap // nodes cloned since the last publish
	dirty *roaring.Bitmap // nodes whose adjacency changed since the last symmetrization
	rng   uint64

	distanceFunc           distance.Func
	maxConnectionsPerLayer int
	maxConnectionsLayer0   int
	layerMultiplier        float64
	opts                   Options
}

// New creates a new HNSW instance.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: opts.Dimension}
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EF <= 0 {
		opts.EF = DefaultEF
	}

	distFunc, err := distance.Provider(opts.DistanceType)
	if err != nil {
		return nil, err
	}

	var rngSeed uint64
	if opts.RandomSeed != nil {
		rngSeed = uint64(*opts.RandomSeed)
	} else {
		rngSeed = uint64(time.Now().UnixNano())
	}

	h := &HNSW{
		work:                   &graph{maxLevel: -1},
		owned:                  roaring.New(),
		dirty:                  roaring.New(),
		rng:                    rngSeed,
		distanceFunc:           distFunc,
		maxConnectionsPerLayer: opts.M,
		maxConnectionsLayer0:   mmax0Multiplier * opts.M,
		layerMultiplier:        layerNormalizationBase / math.Log(float64(opts.M)),
		opts:                   opts,
	}
	h.published.Store(&graph{maxLevel: -1})
	return h, nil
}

// Name returns the name of the index.
func (*HNSW) Name() string { return "HNSW" }

// Dimension returns the configured vector dimension.
func (h *HNSW) Dimension() int { return h.opts.Dimension }

// Metric returns the coarse metric.
func (h *HNSW) Metric() distance.Metric { return h.opts.DistanceType }

// Distance computes the coarse distance between two vectors.
func (h *HNSW) Distance(a, b []float32) float32 { return h.distanceFunc(a, b) }

func (h *HNSW) maxConns(level int) int {
	if level == 0 {
		return h.maxConnectionsLayer0
	}
	return h.maxConnectionsPerLayer
}

func (h *HNSW) prepareVector(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrEmptyVector
	}
	if len(v) != h.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(v)}
	}
	return slices.Clone(v), nil
}

// randomLevel draws a layer using a xorshift64* generator.
func (h *HNSW) randomLevel() int {
	h.rng += 0x9E3779B97F4A7C15 // Golden ratio prime
	seed := h.rng
	seed ^= seed >> 12
	seed ^= seed << 25
	seed ^= seed >> 27
	r := float64(seed*0x2545F4914F6CDD1D>>11) / float64(1<<53)
	if r <= 0 {
		r = math.SmallestNonzeroFloat64
	}
	return min(int(math.Floor(-math.Log(r)*h.layerMultiplier)), maxLevelCap)
}

// mutable returns a writer-owned copy of the node, cloning it on first touch
// after a publish so readers of the published graph never observe the change.
func (h *HNSW) mutable(id model.Handle) *node {
	n := h.work.get(id)
	if n == nil {
		return nil
	}
	if h.owned.Contains(uint32(id)) {
		return n
	}
	c := n.clone()
	h.work.nodes[id] = c
	h.owned.Add(uint32(id))
	return c
}

func (h *HNSW) ensure(id model.Handle) {
	for len(h.work.nodes) <= int(id) {
		h.work.nodes = append(h.work.nodes, nil)
	}
}

// Insert adds a vector under the given handle. Inserting a known handle
// replaces its vector and rewires its edges (see Update).
// Insert must only be called by the writer.
func (h *HNSW) Insert(ctx context.Context, id model.Handle, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vec, err := h.prepareVector(v)
	if err != nil {
		return err
	}
	if existing := h.work.get(id); existing != nil {
		return h.update(ctx, id, vec)
	}

	level := h.randomLevel()
	n := &node{level: level, vec: vec, links: make([][]Neighbor, level+1)}
	h.ensure(id)
	h.work.nodes[id] = n
	h.owned.Add(uint32(id))
	h.dirty.Add(uint32(id))

	g := h.work
	g.count++
	if g.count == 1 {
		g.entryPoint = id
		g.maxLevel = level
		return nil
	}

	if err := h.connect(ctx, id, n); err != nil {
		return err
	}
	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = id
	}
	return nil
}

// Update replaces the vector of an existing node. Edges touching the node are
// detached best-effort and the node is reconnected from scratch.
// Update must only be called by the writer.
func (h *HNSW) Update(ctx context.Context, id model.Handle, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vec, err := h.prepareVector(v)
	if err != nil {
		return err
	}
	if h.work.get(id) == nil {
		return &ErrNodeNotFound{ID: id}
	}
	return h.update(ctx, id, vec)
}

func (h *HNSW) update(ctx context.Context, id model.Handle, vec []float32) error {
	h.Detach(id)
	n := h.mutable(id)
	n.vec = vec
	for l := range n.links {
		n.links[l] = nil
	}
	h.dirty.Add(uint32(id))
	if h.work.count <= 1 {
		return nil
	}
	return h.connect(ctx, id, n)
}

// Detach removes the node's outgoing edges and the reverse edges reachable
// from them. One-sided edges pointing at the node from elsewhere survive.
func (h *HNSW) Detach(id model.Handle) {
	n := h.work.get(id)
	if n == nil {
		return
	}
	for level, links := range n.links {
		for _, nb := range links {
			h.removeLink(nb.ID, id, level)
		}
	}
	m := h.mutable(id)
	for l := range m.links {
		m.links[l] = nil
	}
	h.dirty.Add(uint32(id))
}

func (h *HNSW) removeLink(src, target model.Handle, level int) {
	idx := slices.IndexFunc(h.work.get(src).linksAt(level), func(nb Neighbor) bool { return nb.ID == target })
	if idx < 0 {
		return
	}
	m := h.mutable(src)
	m.links[level] = slices.Delete(m.links[level], idx, idx+1)
	h.dirty.Add(uint32(src))
}

// alternateEntry returns the highest-level node other than exclude.
func (h *HNSW) alternateEntry(exclude model.Handle) (model.Handle, bool) {
	best, bestLevel := model.Handle(0), -1
	for i, n := range h.work.nodes {
		if n == nil || model.Handle(i) == exclude {
			continue
		}
		if n.level > bestLevel {
			best, bestLevel = model.Handle(i), n.level
		}
	}
	return best, bestLevel >= 0
}

// connect performs the graph traversal and linking for a node already stored in the work graph.
func (h *HNSW) connect(ctx context.Context, id model.Handle, n *node) error {
	g := h.work
	epID := g.entryPoint
	if epID == id {
		alt, ok := h.alternateEntry(id)
		if !ok {
			return nil
		}
		epID = alt
	}

	vec := n.vec
	distFunc := func(other model.Handle) float32 {
		return h.distanceFunc(vec, g.nodes[other].vec)
	}

	currID := epID
	currDist := distFunc(currID)

	s := searcher.Get()
	defer searcher.Put(s)

	// 1. Greedy search from top to node.Layer + 1
	for level := g.maxLevel; level > n.level; level-- {
		currID, currDist = h.greedy(g, currID, currDist, level, distFunc)
	}

	// 2. Search and link from node.Layer down to 0
	for level := min(n.level, g.maxLevel); level >= 0; level-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.searchLayer(s, g, currID, currDist, level, h.opts.EF, distFunc, id)
		sorted := s.Candidates.Sorted()
		if len(sorted) > 0 {
			currID = sorted[0].Node
			currDist = sorted[0].Distance
		}

		neighbors := h.selectNeighbors(toNeighbors(sorted), h.maxConns(level))
		n.links[level] = neighbors

		for _, nb := range neighbors {
			h.addConnection(nb.ID, id, level, nb.Dist)
		}
	}
	return nil
}

func (h *HNSW) greedy(g *graph, currID model.Handle, currDist float32, level int, distFunc DistFunc) (model.Handle, float32) {
	changed := true
	for changed {
		changed = false
		for _, next := range g.get(currID).linksAt(level) {
			if g.get(next.ID) == nil {
				continue
			}
			if d := distFunc(next.ID); d < currDist {
				currID, currDist = next.ID, d
				changed = true
			}
		}
	}
	return currID, currDist
}

func toNeighbors(items []searcher.PriorityQueueItem) []Neighbor {
	out := make([]Neighbor, len(items))
	for i, it := range items {
		out[i] = Neighbor{ID: it.Node, Dist: it.Distance}
	}
	return out
}

func (h *HNSW) addConnection(sourceID, targetID model.Handle, level int, dist float32) {
	src := h.work.get(sourceID)
	if src == nil || level > src.level {
		return
	}
	if slices.ContainsFunc(src.links[level], func(nb Neighbor) bool { return nb.ID == targetID }) {
		return
	}

	m := h.mutable(sourceID)
	h.dirty.Add(uint32(sourceID))
	maxM := h.maxConns(level)
	if len(m.links[level]) < maxM {
		m.links[level] = append(m.links[level], Neighbor{ID: targetID, Dist: dist})
		return
	}

	// Prune using cached distances.
	candidates := append(slices.Clone(m.links[level]), Neighbor{ID: targetID, Dist: dist})
	sortNeighbors(candidates)
	selected := h.selectNeighbors(candidates, maxM)
	for _, old := range m.links[level] {
		if !slices.ContainsFunc(selected, func(nb Neighbor) bool { return nb.ID == old.ID }) {
			// The dropped node may now hold a one-sided edge.
			h.dirty.Add(uint32(old.ID))
		}
	}
	m.links[level] = selected
}

func sortNeighbors(ns []Neighbor) {
	slices.SortFunc(ns, func(a, b Neighbor) int {
		switch {
		case a.Dist < b.Dist:
			return -1
		case a.Dist > b.Dist:
			return 1
		default:
			return int(a.ID) - int(b.ID)
		}
	})
}

// selectNeighbors selects up to m neighbors from candidates sorted nearest first.
func (h *HNSW) selectNeighbors(candidates []Neighbor, m int) []Neighbor {
	if !h.opts.Heuristic || len(candidates) <= m {
		return slices.Clone(candidates[:min(m, len(candidates))])
	}

	result := make([]Neighbor, 0, m)
	skipped := make([]Neighbor, 0, len(candidates))
	for _, cand := range candidates {
		if len(result) >= m {
			break
		}
		// Relative Neighborhood Graph property: drop candidates that are closer
		// to an already selected neighbor than to the source node.
		good := true
		cv := h.work.get(cand.ID).vec
		for _, r := range result {
			if h.distanceFunc(cv, h.work.get(r.ID).vec) < cand.Dist {
				good = false
				break
			}
		}
		if good {
			result = append(result, cand)
		} else {
			skipped = append(skipped, cand)
		}
	}

	for _, cand := range skipped {
		if len(result) >= m {
			break
		}
		result = append(result, cand)
	}
	sortNeighbors(result)
	return result
}

func (h *HNSW) searchLayer(s *searcher.Searcher, g *graph, epID model.Handle, epDist float32, level int, ef int, distFunc DistFunc, exclude model.Handle) {
	candidates := s.ScratchCandidates
	results := s.Candidates
	visited := s.Visited

	visited.Reset()
	candidates.Reset()
	results.Reset()

	if exclude != noExclude {
		visited.Visit(exclude)
	}
	visited.Visit(epID)
	candidates.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})
	if epID != exclude {
		results.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})
	}

	for candidates.Len() > 0 {
		curr, _ := candidates.PopItem()

		if results.Len() >= ef {
			if worst, _ := results.TopItem(); curr.Distance > worst.Distance {
				break
			}
		}

		for _, next := range g.get(curr.Node).linksAt(level) {
			if visited.Visited(next.ID) {
				continue
			}
			visited.Visit(next.ID)
			if g.get(next.ID) == nil {
				continue
			}

			nextDist := distFunc(next.ID)

			// Classic HNSW pruning: avoid pushing obviously-bad candidates once we already
			// have ef results.
			if results.Len() >= ef {
				if worst, _ := results.TopItem(); nextDist > worst.Distance {
					continue
				}
			}
			item := searcher.PriorityQueueItem{Node: next.ID, Distance: nextDist}
			candidates.PushItem(item)
			results.PushItemBounded(item, ef)
		}
	}
}

// noExclude is a handle that never addresses a node.
const noExclude = model.Handle(math.MaxUint32)

// Search returns the k approximate nearest neighbors of q from the last
// committed snapshot. It is safe for concurrent use with the writer.
func (h *HNSW) Search(ctx context.Context, q []float32, k int, efSearch int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != h.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(q)}
	}

	g := h.published.Load()
	if g.count == 0 {
		return nil, nil
	}

	ef := max(efSearch, k)
	if efSearch <= 0 {
		ef = max(k, h.opts.EF)
	}

	distFunc := func(id model.Handle) float32 {
		return h.distanceFunc(q, g.nodes[id].vec)
	}

	currID := g.entryPoint
	currDist := distFunc(currID)
	for level := g.maxLevel; level > 0; level-- {
		currID, currDist = h.greedy(g, currID, currDist, level, distFunc)
	}

	s := searcher.Get()
	defer searcher.Put(s)

	h.searchLayer(s, g, currID, currDist, 0, ef, distFunc, noExclude)
	sorted := s.Candidates.Sorted()
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make([]SearchResult, len(sorted))
	for i, it := range sorted {
		out[i] = SearchResult{ID: it.Node, Distance: it.Distance}
	}
	return out, nil
}

// Commit symmetrizes the edges changed since the last commit and publishes
// the working graph to readers.
func (h *HNSW) Commit() {
	h.symmetrize()
	g := h.work
	h.published.Store(&graph{
		nodes:      slices.Clone(g.nodes),
		entryPoint: g.entryPoint,
		maxLevel:   g.maxLevel,
		count:      g.count,
	})
	h.owned.Clear()
}

// symmetrize makes every edge touching a dirty node two-sided. When the
// reverse list is full the forward edge is dropped instead, unless it is the
// node's last edge on that layer.
func (h *HNSW) symmetrize() {
	for _, raw := range h.dirty.ToArray() {
		a := model.Handle(raw)
		an := h.work.get(a)
		if an == nil {
			continue
		}
		for level := 0; level <= an.level; level++ {
			for _, nb := range slices.Clone(h.work.get(a).links[level]) {
				bn := h.work.get(nb.ID)
				if bn == nil || level > bn.level {
					h.removeLink(a, nb.ID, level)
					continue
				}
				if slices.ContainsFunc(bn.links[level], func(x Neighbor) bool { return x.ID == a }) {
					continue
				}
				if len(bn.links[level]) < h.maxConns(level) {
					mb := h.mutable(nb.ID)
					mb.links[level] = append(mb.links[level], Neighbor{ID: a, Dist: nb.Dist})
					continue
				}
				if len(h.work.get(a).links[level]) > 1 {
					h.removeLink(a, nb.ID, level)
				}
			}
		}
	}
	h.dirty.Clear()
}

// Len returns the number of committed nodes.
func (h *HNSW) Len() int {
	return h.published.Load().count
}

// Contains reports whether the handle is present in the committed snapshot.
func (h *HNSW) Contains(id model.Handle) bool {
	return h.published.Load().get(id) != nil
}

// Vector returns the committed coarse vector of a node.
func (h *HNSW) Vector(id model.Handle) ([]float32, bool) {
	n := h.published.Load().get(id)
	if n == nil {
		return nil, false
	}
	return n.vec, true
}

// Links returns the committed adjacency of a node on a layer.
func (h *HNSW) Links(id model.Handle, level int) []Neighbor {
	return slices.Clone(h.published.Load().get(id).linksAt(level))
}

// Stats reports per-level connectivity of the committed snapshot.
func (h *HNSW) Stats() Stats {
	g := h.published.Load()
	st := Stats{Nodes: g.count, MaxLevel: g.maxLevel, EntryPoint: g.entryPoint}
	for level := 0; level <= g.maxLevel; level++ {
		ls := LevelStats{Level: level}
		for i, n := range g.nodes {
			if n == nil || level > n.level {
				continue
			}
			ls.Nodes++
			ls.Connections += len(n.links[level])
			for _, nb := range n.links[level] {
				if !slices.ContainsFunc(g.get(nb.ID).linksAt(level), func(x Neighbor) bool { return x.ID == model.Handle(i) }) {
					ls.Asymmetric++
				}
			}
		}
		st.Levels = append(st.Levels, ls)
	}
	return st
}
