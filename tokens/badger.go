package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/fishdbc/internal/kv"
)

var keyPrefix = []byte("tok/")

func tokenKey(ref string) []byte {
	return append(append([]byte{}, keyPrefix...), ref...)
}

// BadgerStore is a Store backed by BadgerDB with msgpack-encoded values.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// OpenBadger opens a BadgerStore.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	db, err := kv.Open(kv.Options{Dir: opts.Dir, InMemory: opts.InMemory, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, ref string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var toks [][]float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenKey(ref))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &toks)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tokens: get %q: %w", ref, err)
	}
	return toks, nil
}

// Put implements Store.
func (s *BadgerStore) Put(ctx context.Context, ref string, tokens [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := msgpack.Marshal(tokens)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokenKey(ref), val)
	})
}

// PutBatch stores several references in one write batch.
func (s *BadgerStore) PutBatch(ctx context.Context, batch map[string][][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for ref, toks := range batch {
		val, err := msgpack.Marshal(toks)
		if err != nil {
			return err
		}
		if err := wb.Set(tokenKey(ref), val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
