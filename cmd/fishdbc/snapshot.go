package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/hupe1980/fishdbc/config"
	"github.com/hupe1980/fishdbc/snapshot"
)

func openSnapshotStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		return store, nil
	}
	if cfg.Storage.Dir == "" {
		return nil, errors.New("no storage configured")
	}
	return blobstore.NewLocalStore(filepath.Join(cfg.Storage.Dir, "snapshots")), nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}
	names, err := snapshot.List(ctx, store)
	if err != nil {
		return err
	}
	for _, n := range names {
		seq, _ := snapshot.ParseName(n)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tseq=%d\n", n, seq)
	}
	return nil
}

func runSnapshotInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}

	var name string
	if len(args) == 1 {
		name = args[0]
	} else if name, err = snapshot.Latest(ctx, store); err != nil {
		return err
	}

	st, h, err := snapshot.Load(ctx, store, name)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), snapshot.Summarize(name, h, st))
	return nil
}

func printSummary(w io.Writer, s snapshot.Summary) {
	fmt.Fprintf(w, "name:         %s\n", s.Name)
	fmt.Fprintf(w, "created:      %s\n", time.Unix(0, s.CreatedAt).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "format:       v%d %s (%d -> %d bytes, crc32c %08x)\n",
		s.Header.Version, s.Header.Compression, s.Header.RawLen, s.Header.PayloadLen, s.Header.Checksum)
	fmt.Fprintf(w, "config:       dim=%d metric=%s transform=%s m=%d ef=%d k_rescale=%d min_samples=%d min_cluster_size=%d\n",
		s.Config.Dimension, s.Config.Metric, s.Config.Transform, s.Config.M, s.Config.EF,
		s.Config.KRescale, s.Config.MinSamples, s.Config.MinClusterSize)
	fmt.Fprintf(w, "seq:          %d\n", s.Seq)
	fmt.Fprintf(w, "rebuilds:     %d\n", s.Rebuilds)
	fmt.Fprintf(w, "points:       %d\n", s.Points)
	fmt.Fprintf(w, "forest edges: %d\n", s.ForestEdges)
	fmt.Fprintf(w, "merges:       %d\n", s.Merges)
	fmt.Fprintf(w, "clusters:     %d\n", s.Clusters)
	fmt.Fprintf(w, "noise:        %d\n", s.Noise)
}
