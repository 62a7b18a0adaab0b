package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/fishdbc"
	"github.com/hupe1980/fishdbc/config"
	"github.com/hupe1980/fishdbc/model"
	"github.com/hupe1980/fishdbc/tokens"
)

// line is one JSON Lines input record. Tokens, when present, are stored
// under the precise reference before the record is inserted.
type line struct {
	model.Record
	Tokens [][]float32 `json:"tokens,omitempty"`
}

// session is an open DB together with the collaborators built for it.
type session struct {
	db     *fishdbc.DB
	tokens tokens.Store
	logger *fishdbc.Logger
}

func (s *session) Close() error {
	return errors.Join(s.db.Close(), s.tokens.Close())
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	if store != nil {
		opts = append(opts, fishdbc.WithBlobStore(store))
	}
	ts, err := cfg.OpenTokens(logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	em, err := cfg.OpenEmitter(ctx)
	if err != nil {
		_ = ts.Close()
		return nil, fmt.Errorf("emitter: %w", err)
	}
	if em != nil {
		opts = append(opts, fishdbc.WithEmitter(em))
	}
	db, err := fishdbc.Open(ctx, cfg.Dimension, cfg.Scorer(ts), opts...)
	if err != nil {
		_ = ts.Close()
		if em != nil {
			_ = em.Close()
		}
		return nil, err
	}
	return &session{db: db, tokens: ts, logger: logger}, nil
}

func runIngest(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	batchSize, _ := cmd.Flags().GetInt("batch")
	snapshot, _ := cmd.Flags().GetBool("snapshot")
	if batchSize <= 0 {
		return fmt.Errorf("batch must be positive, got %d", batchSize)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.Close()) }()

	var (
		dec      = json.NewDecoder(in)
		batch    = make([]model.Record, 0, batchSize)
		accepted int
		rejected int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := s.db.BatchInsert(ctx, batch)
		if err != nil {
			return err
		}
		accepted += res.Accepted
		for _, e := range res.Errors {
			if e != nil {
				rejected++
				fmt.Fprintln(cmd.ErrOrStderr(), e)
			}
		}
		batch = batch[:0]
		return nil
	}

	for n := 1; ; n++ {
		var l line
		if err := dec.Decode(&l); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("record %d: %w", n, err)
		}
		if l.PreciseRef == "" {
			l.PreciseRef = l.ID
		}
		if len(l.Tokens) > 0 {
			if err := s.tokens.Put(ctx, l.PreciseRef, l.Tokens); err != nil {
				return fmt.Errorf("record %d: store tokens: %w", n, err)
			}
		}
		batch = append(batch, l.Record)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	h := s.db.Health()
	fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d rejected=%d points=%d clusters=%d degraded=%d last_seq=%d\n",
		accepted, rejected, h.Points, h.Clusters, h.DegradedPoints, h.LastSeq)

	if snapshot {
		name, err := s.db.Snapshot(ctx)
		if errors.Is(err, fishdbc.ErrNoStore) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s\n", name)
	}
	return nil
}

func runClusters(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Dir == "" && cfg.Storage.S3 == nil && cfg.Storage.MinIO == nil {
		return errors.New("no storage configured")
	}
	cfg.Storage.Restore = true

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for _, c := range s.db.Clusters() {
		fmt.Fprintf(out, "%s\tsize=%d\tstability=%.4f\tbirth=%.4f\tdeath=%.4f\n",
			c.ID, len(c.Members), c.Stability, c.BirthDistance, c.DeathDistance)
	}
	h := s.db.Health()
	fmt.Fprintf(out, "points=%d clusters=%d degraded=%d last_seq=%d\n", h.Points, h.Clusters, h.DegradedPoints, h.LastSeq)
	return nil
}
