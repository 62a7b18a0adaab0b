// Package pointlog is the upstream point log: an append-only record of every
// accepted point, keyed by insertion sequence. It is replayed after restoring
// a snapshot and used for full rebuilds when a snapshot cannot be trusted.
package pointlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/fishdbc/internal/kv"
	"github.com/hupe1980/fishdbc/model"
)

// ErrOutOfOrder is returned when an append would not strictly increase the sequence.
var ErrOutOfOrder = errors.New("pointlog: sequence not increasing")

var prefix = []byte("seq/")

func seqKey(seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

// Options configures a Log.
type Options struct {
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// Log is a Badger-backed point log. Appends must come from a single writer.
type Log struct {
	db      *badger.DB
	lastSeq uint64
}

// Open opens or creates a point log.
func Open(opts Options) (*Log, error) {
	db, err := kv.Open(kv.Options{Dir: opts.Dir, InMemory: opts.InMemory, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	l := &Log{db: db}
	last, err := l.scanLast()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.lastSeq = last
	return l, nil
}

func (l *Log) scanLast() (uint64, error) {
	var last uint64
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the prefix range.
		it.Seek(seqKey(^uint64(0)))
		if it.ValidForPrefix(prefix) {
			last = binary.BigEndian.Uint64(it.Item().Key()[len(prefix):])
		}
		return nil
	})
	return last, err
}

// LastSeq returns the highest appended sequence, or 0 for an empty log.
func (l *Log) LastSeq() uint64 { return l.lastSeq }

// Append writes records in order. Sequences must be strictly increasing.
func (l *Log) Append(ctx context.Context, recs []model.SequencedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	last := l.lastSeq
	for _, r := range recs {
		if r.Seq <= last {
			return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, r.Seq, last)
		}
		last = r.Seq
	}

	wb := l.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range recs {
		val, err := msgpack.Marshal(&r)
		if err != nil {
			return err
		}
		if err := wb.Set(seqKey(r.Seq), val); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("pointlog: append: %w", err)
	}
	l.lastSeq = last
	return nil
}

// Replay calls fn for every record with a sequence above afterSeq, in order.
func (l *Log) Replay(ctx context.Context, afterSeq uint64, fn func(model.SequencedRecord) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(seqKey(afterSeq + 1)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec model.SequencedRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("pointlog: decode seq %d: %w", binary.BigEndian.Uint64(it.Item().Key()[len(prefix):]), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the log.
func (l *Log) Close() error {
	return l.db.Close()
}
