// Package sqlite provides an emit.Emitter that upserts assignments into a
// SQLite database using the pure-Go modernc.org/sqlite driver.
//
//	sink, err := sqlite.Open(ctx, "assignments.db")
//	db, err := fishdbc.Open(ctx, 384, fishdbc.WithEmitter(sink))
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hupe1980/fishdbc/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS assignments (
	point_id    TEXT PRIMARY KEY,
	cluster_id  INTEGER NOT NULL,
	probability REAL NOT NULL,
	degraded    INTEGER NOT NULL DEFAULT 0,
	seq         INTEGER NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assignments_cluster ON assignments(cluster_id);
`

// Upserts are guarded by seq so that an at-least-once replay of an older
// batch never overwrites a newer assignment.
const upsert = `
INSERT INTO assignments (point_id, cluster_id, probability, degraded, seq, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(point_id) DO UPDATE SET
	cluster_id  = excluded.cluster_id,
	probability = excluded.probability,
	degraded    = excluded.degraded,
	seq         = excluded.seq,
	updated_at  = excluded.updated_at
WHERE excluded.seq >= assignments.seq
`

// Sink is an emit.Emitter backed by a SQLite table keyed by point_id.
type Sink struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the database file at path.
func Open(ctx context.Context, path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// WAL mode for concurrent readers.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Sink{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (s *Sink) Path() string { return s.path }

// Emit upserts the batch in a single transaction.
func (s *Sink) Emit(ctx context.Context, batch []model.Assignment) (err error) {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, a := range batch {
		if _, err = stmt.ExecContext(ctx, a.PointID, int64(a.ClusterID), a.Probability, a.Degraded, int64(a.Seq), now); err != nil {
			return fmt.Errorf("upsert %s: %w", a.PointID, err)
		}
	}
	return tx.Commit()
}

// Get returns the stored assignment of a point.
func (s *Sink) Get(ctx context.Context, pointID string) (model.Assignment, error) {
	var (
		a         model.Assignment
		clusterID int64
		seq       int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT point_id, cluster_id, probability, degraded, seq FROM assignments WHERE point_id = ?`, pointID,
	).Scan(&a.PointID, &clusterID, &a.Probability, &a.Degraded, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", pointID, os.ErrNotExist)
	}
	if err != nil {
		return model.Assignment{}, err
	}
	a.ClusterID = model.ClusterID(clusterID)
	a.Seq = uint64(seq)
	return a, nil
}

// ClusterSizes returns the number of points per cluster, noise included.
func (s *Sink) ClusterSizes(ctx context.Context) (map[model.ClusterID]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cluster_id, COUNT(*) FROM assignments GROUP BY cluster_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.ClusterID]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[model.ClusterID(id)] = n
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}
