// Package reach maintains per-point precise neighbor lists, core distances
// and the mutual reachability distance derived from them.
//
// Every distance held here comes from the distance oracle's final metric.
// Entries produced by the coarse fallback carry a Degraded flag so they can
// be told apart and rescored later.
package reach

import (
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fishdbc/model"
)

// Entry is a neighbor of a point under the precise metric.
type Entry struct {
	ID       model.Handle `msgpack:"i"`
	Distance float64      `msgpack:"d"`
	Degraded bool         `msgpack:"g,omitempty"`
}

func compareEntries(a, b Entry) int {
	switch {
	case a.Distance < b.Distance:
		return -1
	case a.Distance > b.Distance:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// Options configures the table.
type Options struct {
	// MinSamples is the neighborhood size used for core distances,
	// counting the point itself.
	MinSamples int
	// Capacity bounds each neighbor list.
	Capacity int
}

// DefaultOptions contains the default table options.
var DefaultOptions = Options{
	MinSamples: 5,
	Capacity:   16,
}

// Table holds the neighbor lists and core distances of all points.
// It is owned by the writer and not safe for concurrent use.
type Table struct {
	lists     [][]Entry
	core      []float64
	referrers []*roaring.Bitmap // referrers[q] = points whose list contains q
	opts      Options
}

// New creates an empty table.
func New(optFns ...func(o *Options)) *Table {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.MinSamples = max(opts.MinSamples, 1)
	opts.Capacity = max(opts.Capacity, opts.MinSamples-1, 1)
	return &Table{opts: opts}
}

// K returns the number of other points that determine a core distance.
func (t *Table) K() int { return t.opts.MinSamples - 1 }

// Capacity returns the neighbor list bound.
func (t *Table) Capacity() int { return t.opts.Capacity }

// Len returns the number of handles the table has room for.
func (t *Table) Len() int { return len(t.lists) }

func (t *Table) grow(p model.Handle) {
	for len(t.lists) <= int(p) {
		t.lists = append(t.lists, nil)
		t.referrers = append(t.referrers, roaring.New())
		t.core = append(t.core, t.coreOf(nil))
	}
}

// coreOf is the distance to the K-th nearest other point, or +Inf when
// fewer neighbors are known.
func (t *Table) coreOf(list []Entry) float64 {
	k := t.K()
	if k == 0 {
		return 0
	}
	if len(list) < k {
		return model.Infinity
	}
	return list[k-1].Distance
}

func (t *Table) refresh(p model.Handle) bool {
	c := t.coreOf(t.lists[p])
	changed := c != t.core[p]
	t.core[p] = c
	return changed
}

// Set replaces the neighbor list of p. Entries referring to p itself are
// ignored; duplicate IDs keep the nearest entry. It reports whether the core
// distance of p changed.
func (t *Table) Set(p model.Handle, entries []Entry) bool {
	t.grow(p)
	for _, e := range entries {
		t.grow(e.ID)
	}
	for _, e := range t.lists[p] {
		t.referrers[e.ID].Remove(uint32(p))
	}

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, compareEntries)
	seen := make(map[model.Handle]struct{}, len(sorted))
	list := make([]Entry, 0, min(len(sorted), t.opts.Capacity))
	for _, e := range sorted {
		if _, dup := seen[e.ID]; dup || e.ID == p {
			continue
		}
		seen[e.ID] = struct{}{}
		list = append(list, e)
	}
	if len(list) > t.opts.Capacity {
		list = list[:t.opts.Capacity]
	}
	for _, e := range list {
		t.referrers[e.ID].Add(uint32(p))
	}
	t.lists[p] = list
	return t.refresh(p)
}

// Offer proposes q as a neighbor of p. An existing entry for q is replaced.
// It reports whether the core distance of p changed.
func (t *Table) Offer(p model.Handle, e Entry) bool {
	if e.ID == p {
		return false
	}
	t.grow(max(p, e.ID))
	list := t.lists[p]
	if i := slices.IndexFunc(list, func(x Entry) bool { return x.ID == e.ID }); i >= 0 {
		list = slices.Delete(list, i, i+1)
	} else if len(list) >= t.opts.Capacity && compareEntries(e, list[len(list)-1]) >= 0 {
		return false
	}

	i, _ := slices.BinarySearchFunc(list, e, compareEntries)
	list = slices.Insert(list, i, e)
	if len(list) > t.opts.Capacity {
		evicted := list[len(list)-1]
		list = list[:t.opts.Capacity]
		t.referrers[evicted.ID].Remove(uint32(p))
	}
	t.referrers[e.ID].Add(uint32(p))
	t.lists[p] = list
	return t.refresh(p)
}

// Detach clears p's own list and removes p from every list that holds it.
// It returns the points whose core distance changed, excluding p.
func (t *Table) Detach(p model.Handle) []model.Handle {
	if int(p) >= len(t.lists) {
		return nil
	}
	for _, e := range t.lists[p] {
		t.referrers[e.ID].Remove(uint32(p))
	}
	t.lists[p] = nil
	t.refresh(p)

	var changed []model.Handle
	for _, raw := range t.referrers[p].ToArray() {
		q := model.Handle(raw)
		t.lists[q] = slices.DeleteFunc(t.lists[q], func(x Entry) bool { return x.ID == p })
		if t.refresh(q) {
			changed = append(changed, q)
		}
	}
	t.referrers[p].Clear()
	return changed
}

// Core returns the core distance of p.
func (t *Table) Core(p model.Handle) float64 {
	if int(p) >= len(t.core) {
		return t.coreOf(nil)
	}
	return t.core[p]
}

// MutualReachability returns max(core(a), core(b), d).
func (t *Table) MutualReachability(a, b model.Handle, d float64) float64 {
	return math.Max(math.Max(t.Core(a), t.Core(b)), d)
}

// Neighbors returns a copy of p's neighbor list, nearest first.
func (t *Table) Neighbors(p model.Handle) []Entry {
	if int(p) >= len(t.lists) {
		return nil
	}
	return slices.Clone(t.lists[p])
}

// Referrers returns the points whose list contains p.
func (t *Table) Referrers(p model.Handle) []model.Handle {
	if int(p) >= len(t.referrers) {
		return nil
	}
	raw := t.referrers[p].ToArray()
	out := make([]model.Handle, len(raw))
	for i, r := range raw {
		out[i] = model.Handle(r)
	}
	return out
}

// Degraded reports whether any entry of p came from the coarse fallback.
func (t *Table) Degraded(p model.Handle) bool {
	if int(p) >= len(t.lists) {
		return false
	}
	return slices.ContainsFunc(t.lists[p], func(e Entry) bool { return e.Degraded })
}

// Edge is a candidate edge weighted by mutual reachability.
type Edge struct {
	A, B     model.Handle
	Weight   float64
	Degraded bool
}

// Edges returns every list entry as an edge with A < B, deduplicated and
// weighted by mutual reachability. When both directions are known the
// smaller precise distance wins.
func (t *Table) Edges() []Edge {
	seen := make(map[[2]model.Handle]int)
	var out []Edge
	for p, list := range t.lists {
		for _, e := range list {
			a, b := model.Handle(p), e.ID
			if a > b {
				a, b = b, a
			}
			w := t.MutualReachability(a, b, e.Distance)
			key := [2]model.Handle{a, b}
			if i, ok := seen[key]; ok {
				if w < out[i].Weight || (w == out[i].Weight && out[i].Degraded && !e.Degraded) {
					out[i].Weight, out[i].Degraded = w, e.Degraded
				}
				continue
			}
			seen[key] = len(out)
			out = append(out, Edge{A: a, B: b, Weight: w, Degraded: e.Degraded})
		}
	}
	return out
}

// EdgesOf returns the edges touching p: its own list and the lists that refer to it.
func (t *Table) EdgesOf(p model.Handle) []Edge {
	if int(p) >= len(t.lists) {
		return nil
	}
	var out []Edge
	for _, e := range t.lists[p] {
		out = append(out, Edge{A: p, B: e.ID, Weight: t.MutualReachability(p, e.ID, e.Distance), Degraded: e.Degraded})
	}
	for _, raw := range t.referrers[p].ToArray() {
		q := model.Handle(raw)
		for _, e := range t.lists[q] {
			if e.ID == p {
				out = append(out, Edge{A: q, B: p, Weight: t.MutualReachability(q, p, e.Distance), Degraded: e.Degraded})
				break
			}
		}
	}
	return out
}

// State is the persisted form of the table.
type State struct {
	Lists [][]Entry `msgpack:"lists"`
}

// Export returns a deep copy of the neighbor lists.
func (t *Table) Export() State {
	st := State{Lists: make([][]Entry, len(t.lists))}
	for i, l := range t.lists {
		st.Lists[i] = slices.Clone(l)
	}
	return st
}

// Import replaces the table content. Core distances and referrers are derived.
func (t *Table) Import(st State) {
	t.lists = nil
	t.core = nil
	t.referrers = nil
	if len(st.Lists) > 0 {
		t.grow(model.Handle(len(st.Lists) - 1))
	}
	for p, l := range st.Lists {
		if len(l) > 0 {
			t.Set(model.Handle(p), l)
		}
	}
}
