package emit

import (
	"cmp"
	"context"
	"slices"

	"github.com/hupe1980/fishdbc/model"
)

// Outbox buffers assignments until an emitter accepts them. A newer
// assignment for a point replaces any pending one. Outbox is owned by a
// single goroutine.
type Outbox struct {
	pending map[string]model.Assignment
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[string]model.Assignment)}
}

// Add queues assignments.
func (o *Outbox) Add(batch ...model.Assignment) {
	for _, a := range batch {
		o.pending[a.PointID] = a
	}
}

// Len returns the number of pending assignments.
func (o *Outbox) Len() int { return len(o.pending) }

// Pending returns the pending assignments ordered by sequence, then point ID.
func (o *Outbox) Pending() []model.Assignment {
	out := make([]model.Assignment, 0, len(o.pending))
	for _, a := range o.pending {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.Assignment) int {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return cmp.Compare(a.PointID, b.PointID)
	})
	return out
}

// Flush hands all pending assignments to e. On success the outbox is
// cleared and the number delivered returned; on failure everything stays
// pending for the next attempt.
func (o *Outbox) Flush(ctx context.Context, e Emitter) (int, error) {
	if len(o.pending) == 0 {
		return 0, nil
	}
	batch := o.Pending()
	if err := e.Emit(ctx, batch); err != nil {
		return 0, err
	}
	clear(o.pending)
	return len(batch), nil
}
