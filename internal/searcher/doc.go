// Package searcher implements the priority queues and visited sets used by
// graph traversal.
package searcher
