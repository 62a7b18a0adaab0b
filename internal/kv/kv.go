// Package kv opens the Badger databases used for the point log and the
// token store, routing Badger's own logging through slog.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Options configures a Badger database.
type Options struct {
	// Dir is the directory for Badger data files. Required unless InMemory.
	Dir string

	// InMemory runs Badger without disk persistence.
	InMemory bool

	// Logger receives Badger warnings and errors. Nil discards them.
	Logger *slog.Logger
}

// Open opens a Badger database.
func Open(opts Options) (*badger.DB, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("kv: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(slogLogger{l: opts.Logger})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger: %w", err)
	}
	return db, nil
}

// slogLogger adapts slog to badger.Logger, suppressing debug and info output.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Errorf(f string, v ...interface{}) {
	if s.l != nil {
		s.l.LogAttrs(context.Background(), slog.LevelError, fmt.Sprintf(f, v...), slog.String("component", "badger"))
	}
}

func (s slogLogger) Warningf(f string, v ...interface{}) {
	if s.l != nil {
		s.l.LogAttrs(context.Background(), slog.LevelWarn, fmt.Sprintf(f, v...), slog.String("component", "badger"))
	}
}

func (slogLogger) Infof(string, ...interface{})  {}
func (slogLogger) Debugf(string, ...interface{}) {}
