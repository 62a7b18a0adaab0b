package searcher

import "sync"

// Searcher is a reusable execution context for graph traversal.
//
// Searcher is NOT thread-safe. It is intended to be owned by a single goroutine
// during a search operation.
type Searcher struct {
	// Visited tracks visited nodes during graph traversal.
	Visited *VisitedSet

	// Candidates is a bounded max-heap holding the best ef results so far.
	Candidates *PriorityQueue

	// ScratchCandidates is a min-heap of nodes still to explore.
	ScratchCandidates *PriorityQueue
}

var pool = sync.Pool{
	New: func() any {
		return &Searcher{
			Visited:           NewVisitedSet(1024),
			Candidates:        NewPriorityQueue(true),
			ScratchCandidates: NewPriorityQueue(false),
		}
	},
}

// Get returns a Searcher from the pool.
func Get() *Searcher {
	return pool.Get().(*Searcher)
}

// Put returns a Searcher to the pool after resetting it.
func Put(s *Searcher) {
	s.Visited.Reset()
	s.Candidates.Reset()
	s.ScratchCandidates.Reset()
	pool.Put(s)
}
