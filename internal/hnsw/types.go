package hnsw

import (
	"errors"
	"fmt"

	"github.com/hupe1980/fishdbc/model"
)

var (
	ErrEmptyVector = errors.New("vector cannot be empty")
	ErrInvalidK    = errors.New("k must be positive")
)

type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

type ErrNodeNotFound struct {
	ID model.Handle
}

func (e *ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node %d not found", e.ID)
}

// Neighbor represents a connection to another node with its coarse distance.
type Neighbor struct {
	ID   model.Handle `msgpack:"i"`
	Dist float32      `msgpack:"d"`
}

type SearchResult struct {
	ID       model.Handle
	Distance float32
}

type LevelStats struct {
	Level       int
	Nodes       int
	Connections int
	Asymmetric  int
}

type Stats struct {
	Nodes      int
	MaxLevel   int
	EntryPoint model.Handle
	Levels     []LevelStats
}

// NodeState is the persisted form of a node.
type NodeState struct {
	Level  int          `msgpack:"lvl"`
	Vector []float32    `msgpack:"vec"`
	Links  [][]Neighbor `msgpack:"links"`
}

// State is the persisted form of the index adjacency.
// Nodes is indexed by handle; absent handles carry Level -1.
type State struct {
	Nodes      []NodeState  `msgpack:"nodes"`
	EntryPoint model.Handle `msgpack:"ep"`
	MaxLevel   int          `msgpack:"max_level"`
	RNG        uint64       `msgpack:"rng"`
}
