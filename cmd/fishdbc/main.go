// Package main provides the fishdbc CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/fishdbc/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fishdbc",
		Short: "Incremental density-based clustering with two-tier distances",
		Long: `fishdbc clusters a stream of embedded records incrementally.

Coarse vectors shortlist candidates in an HNSW index; a token-level MaxSim
scorer rescores them. Assignments are emitted to SQLite or MQTT and the
state is snapshotted to a local directory, S3 or MinIO.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fishdbc v%s (%s)\n", version, commit)
		},
	})

	ingestCmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Cluster records from a JSON Lines file (stdin with -)",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	ingestCmd.Flags().Int("batch", 256, "Records per insertion cycle")
	ingestCmd.Flags().Bool("snapshot", true, "Write a snapshot after ingesting")
	rootCmd.AddCommand(ingestCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "clusters",
		Short: "Print the clusters of the stored state",
		RunE:  runClusters,
	})

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Snapshot operations",
	}
	snapshotCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, oldest first",
		RunE:  runSnapshotList,
	})
	snapshotCmd.AddCommand(&cobra.Command{
		Use:   "inspect [name]",
		Short: "Verify and summarize a snapshot (default: newest)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSnapshotInspect,
	})
	rootCmd.AddCommand(snapshotCmd)

	return rootCmd
}

// loadConfig reads the --config file, if any, and applies environment
// overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}
