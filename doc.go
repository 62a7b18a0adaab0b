// Package fishdbc provides an embedded, incremental density-based clustering
// database for Go.
//
// Points arrive as records with a coarse vector, used for candidate
// shortlisting in an HNSW neighbor index, and a precise reference resolved by
// a distance oracle for the final distance. The DB maintains mutual
// reachability distances, a minimum spanning forest and its dendrogram
// incrementally, and condenses the hierarchy into flat, stability-ranked
// clusters with soft membership.
//
// # Quick Start
//
//	ctx := context.Background()
//	store := tokens.NewMemoryStore()
//	db, _ := fishdbc.Open(ctx, 384, oracle.NewMaxSim(store),
//	    fishdbc.WithDir("./data"),
//	    fishdbc.WithMinClusterSize(5),
//	)
//	defer db.Close()
//
//	seq, _ := db.Insert(ctx, model.Record{ID: "msg-1", Coarse: vec, PreciseRef: "msg-1"})
//	a, _ := db.Assignment("msg-1")
//	fmt.Println(seq, a.ClusterID, a.Probability)
//
// # Two-Tier Distances
//
// The coarse metric only selects at most KRescale candidates per point. The
// precise scorer rescores them; similarities s become distances 1/(1+s) by
// default. When the scorer fails or times out the coarse distance is used
// instead and the affected assignments are flagged Degraded. Degraded points
// are rescored once the scorer is available again.
//
// # Durability
//
// Every accepted record is appended to the point log before it is
// acknowledged. Snapshots of the neighbor index, reachability lists,
// spanning forest and dendrogram go to a blob store (local, S3 or MinIO):
//
//	db.Snapshot(ctx)                                   // on demand
//	fishdbc.Open(ctx, dim, scorer, fishdbc.WithSnapshots(100, 3)) // periodic
//
// Reopening WithRestore resumes from the newest snapshot and replays the
// log from there. A corrupt snapshot is refused with ErrSnapshotCorrupt;
// reopening without WithRestore reprocesses the full point log.
//
// # Emission
//
// Changed assignments are delivered at-least-once to an emit.Emitter, keyed
// by point ID for idempotent upserts (see emit/sqlite and emit/mqtt).
package fishdbc
