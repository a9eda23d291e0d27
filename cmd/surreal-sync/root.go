package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surreal-sync/internal/config"
)

// globalFlags mirrors the universal options spec §6 lists, bound to the
// matching environment variable the same way the teacher's MONGODB_URI
// overrides cfg.MongoDB.URI in internal/config.Load.
type globalFlags struct {
	cfg *config.Config

	toNamespace     string
	toDatabase      string
	surrealEndpoint string
	surrealUsername string
	surrealPassword string
	batchSize       int
	dryRun          bool
	emitCheckpoints bool
	checkpointDir   string
	incrementalFrom string
	incrementalTo   string
	timeout         time.Duration
	verbose         bool
	follow          bool
	healthPort      int

	sourceURI      string
	sourceDatabase string
	sourceUsername string
	sourcePassword string
}

func newRootCmd() *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		// config.Load never actually fails today (env parsing always
		// falls back to defaults); kept so a future validating loader
		// can report Configuration errors without an API change.
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}

	g := &globalFlags{cfg: cfg}

	root := &cobra.Command{
		Use:           "surreal-sync",
		Short:         "Consistent sync coordinator from a source database into SurrealDB",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if g.verbose || cfg.DevMode {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			slog.Info("surreal-sync starting", "version", version, "build_time", buildTime)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.toNamespace, "to-namespace", "", "target SurrealDB namespace")
	pf.StringVar(&g.toDatabase, "to-database", "", "target SurrealDB database")
	pf.StringVar(&g.surrealEndpoint, "surreal-endpoint", cfg.Surreal.Endpoint, "SurrealDB endpoint (http://, ws://, or wss://)")
	pf.StringVar(&g.surrealUsername, "surreal-username", cfg.Surreal.Username, "SurrealDB username")
	pf.StringVar(&g.surrealPassword, "surreal-password", cfg.Surreal.Password, "SurrealDB password, or secret://<key>")
	pf.IntVar(&g.batchSize, "batch-size", cfg.Run.BatchSize, "records per batch")
	pf.BoolVar(&g.dryRun, "dry-run", cfg.Run.DryRun, "convert and log without writing to the target")
	pf.BoolVar(&g.emitCheckpoints, "emit-checkpoints", cfg.Run.EmitCheckpoints, "persist checkpoint envelopes to the checkpoint store")
	pf.StringVar(&g.checkpointDir, "checkpoint-dir", cfg.Run.CheckpointDir, "on-disk checkpoint store directory")
	pf.StringVar(&g.incrementalFrom, "incremental-from", "", "checkpoint tag to resume incremental sync from")
	pf.StringVar(&g.incrementalTo, "incremental-to", "", "checkpoint tag to bound incremental sync at")
	pf.DurationVar(&g.timeout, "timeout", cfg.Run.Timeout, "incremental run deadline (e.g. 30m, 300s)")
	pf.BoolVar(&g.verbose, "verbose", false, "enable debug logging")
	pf.BoolVar(&g.follow, "follow", false, "serve /q/health and /metrics while an incremental run is active")
	pf.IntVar(&g.healthPort, "health-port", 9464, "port for --follow's health/metrics server")

	pf.StringVar(&g.sourceURI, "source-uri", cfg.Source.URI, "source connection URI/DSN")
	pf.StringVar(&g.sourceDatabase, "source-database", cfg.Source.Database, "source database/schema name")
	pf.StringVar(&g.sourceUsername, "source-username", cfg.Source.Username, "source username")
	pf.StringVar(&g.sourcePassword, "source-password", cfg.Source.Password, "source password, or secret://<key>")

	root.AddCommand(
		newFromCmd(g),
		newSyncCmd(g),
		newCSVCmd(g),
		newJSONLCmd(g),
		newDropCaptureCmd(g),
	)
	return root
}
