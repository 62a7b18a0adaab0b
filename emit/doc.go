// Package emit publishes cluster assignments to downstream collaborators.
//
// Assignments are keyed by point ID and carry the insertion sequence of the
// point version they describe, so sinks can upsert idempotently. Delivery is
// at-least-once: the engine keeps undelivered assignments in an Outbox and
// retries them on the next cycle.
//
// Built-in emitters:
//
//   - Memory: keeps the latest assignment per point, for tests and embedding
//   - Func: adapts a function
//   - Multi: fans out to several emitters
//   - sqlite.Sink: upserts into a SQLite table (modernc.org/sqlite)
//   - mqtt.Publisher: publishes QoS 1 messages per point (eclipse/paho.golang)
package emit
