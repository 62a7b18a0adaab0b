// Package engine implements the incremental update manager.
//
// The engine orchestrates:
//   - Sequencing: accepted records get strictly increasing sequences and are
//     appended to the point log before they are acknowledged
//   - A single writer goroutine that processes batches in sequence order
//   - Candidate search on the committed neighbor index and parallel precise
//     rescoring through the distance oracle
//   - Neighbor lists, core distances and local spanning forest repair
//   - Full rebuilds when too many points were touched or an invariant broke
//   - Condensation into flat clusters and at-least-once emission
//   - Degraded mode and precise recompute passes
//   - Snapshots, restore and point log replay
//
// Readers use the View published after each cycle and never block the writer.
package engine
