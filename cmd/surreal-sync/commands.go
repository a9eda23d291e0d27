package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/surrealdb/surreal-sync/internal/adapter/surreal"
	"github.com/surrealdb/surreal-sync/internal/checkpoint"
	"github.com/surrealdb/surreal-sync/internal/leader"
	"github.com/surrealdb/surreal-sync/internal/secrets"
	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
)

// newFromCmd implements `from <source> full|incremental`, the primary
// command grammar of spec §6; `from full <source>` and
// `from incremental <source>` are accepted as well.
func newFromCmd(g *globalFlags) *cobra.Command {
	sf := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "from <source> full|incremental",
		Short: "Sync from a named source backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			switch args[1] {
			case "full":
				return runFull(cobraCmd.Context(), g, sf, args[0])
			case "incremental":
				return runIncremental(cobraCmd.Context(), g, sf, args[0])
			default:
				return fmt.Errorf("unknown mode %q: want full or incremental", args[1])
			}
		},
	}
	addSourceFlags(cmd, sf, g)

	cmd.AddCommand(newFullCmd(g, sf), newIncrementalCmd(g, sf))
	return cmd
}

func newFullCmd(g *globalFlags, sf *sourceFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "full <backend>",
		Short: "Run the one-shot bulk dump bridged by capture setup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFull(cmd.Context(), g, sf, args[0])
		},
	}
}

func newIncrementalCmd(g *globalFlags, sf *sourceFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "incremental <backend>",
		Short: "Replay changes from a checkpoint via peek/process/advance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncremental(cmd.Context(), g, sf, args[0])
		},
	}
}

// newSyncCmd is the legacy `sync <source>` alias (spec §6): runs full
// then, on success, incremental from the full_sync_start checkpoint (cp_t1)
// full just persisted, so changes made during the dump are replayed.
func newSyncCmd(g *globalFlags) *cobra.Command {
	sf := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "sync <backend>",
		Short: "Legacy alias: run full, then incremental from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			ctx := cobraCmd.Context()
			if err := runFull(ctx, g, sf, args[0]); err != nil {
				return err
			}
			if g.incrementalFrom == "" {
				g.incrementalFrom = "full_sync_start"
			}
			return runIncremental(ctx, g, sf, args[0])
		},
	}
	addSourceFlags(cmd, sf, g)
	return cmd
}

// newCSVCmd and newJSONLCmd are thin aliases for `from file full` with
// the file backend's defaults, matching spec §6's legacy `csv`/`jsonl`
// subcommands.
func newCSVCmd(g *globalFlags) *cobra.Command  { return newFileAliasCmd(g, "csv") }
func newJSONLCmd(g *globalFlags) *cobra.Command { return newFileAliasCmd(g, "jsonl") }

func newFileAliasCmd(g *globalFlags, name string) *cobra.Command {
	sf := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   name + " <dir>",
		Short: fmt.Sprintf("Load %s files from a directory as a one-shot full sync", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			sf.fileDir = args[0]
			return runFull(cobraCmd.Context(), g, sf, "file")
		},
	}
	addSourceFlags(cmd, sf, g)
	return cmd
}

func newDropCaptureCmd(g *globalFlags) *cobra.Command {
	sf := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "drop-capture <backend>",
		Short: "Explicitly tear down capture infrastructure (triggers, replication slot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return runDropCapture(cobraCmd.Context(), g, sf, args[0])
		},
	}
	addSourceFlags(cmd, sf, g)
	return cmd
}

// resolveCredentials resolves secret:// prefixed source/surreal passwords
// through the configured secrets provider before any connection is made.
func resolveCredentials(ctx context.Context, g *globalFlags) error {
	provider, err := secrets.NewProvider(secrets.LoadConfigFromEnv())
	if err != nil {
		return fmt.Errorf("construct secrets provider: %w", err)
	}
	if resolved, err := secrets.ResolvePassword(ctx, provider, g.sourcePassword); err != nil {
		return err
	} else {
		g.sourcePassword = resolved
	}
	if resolved, err := secrets.ResolvePassword(ctx, provider, g.surrealPassword); err != nil {
		return err
	} else {
		g.surrealPassword = resolved
	}
	return nil
}

func buildWriter(ctx context.Context, g *globalFlags, backend string) (syncpkg.Writer, error) {
	if g.dryRun {
		return newInstrumentedWriter(backend, syncpkg.NewDryRunWriter()), nil
	}
	cfg := surreal.DefaultConfig()
	cfg.Endpoint = g.surrealEndpoint
	cfg.Namespace = g.toNamespace
	cfg.Database = g.toDatabase
	cfg.Username = g.surrealUsername
	cfg.Password = g.surrealPassword
	w, err := surreal.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newInstrumentedWriter(backend, w), nil
}

func buildCheckpointStore(g *globalFlags) (syncpkg.CheckpointStore, error) {
	store, err := checkpoint.NewFileStore(g.checkpointDir)
	if err != nil {
		return nil, err
	}
	return newInstrumentedCheckpointStore(store), nil
}

// acquireSlotLock enforces spec §5's single-writer-per-slot rule for
// incremental runs, when leader election is enabled via configuration.
func acquireSlotLock(ctx context.Context, g *globalFlags, slotName string) (*leader.SlotLock, error) {
	if !g.cfg.Leader.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: g.cfg.Leader.RedisAddr})
	cfg := leader.DefaultConfig(slotName)
	cfg.TTL = g.cfg.Leader.TTL
	cfg.RefreshInterval = g.cfg.Leader.RefreshInterval
	if g.cfg.Leader.InstanceID != "" {
		cfg.InstanceID = g.cfg.Leader.InstanceID
	}
	lock := leader.New(client, cfg)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("slot %s is already locked by another incremental run", slotName)
	}
	lock.Start()
	return lock, nil
}

func runFull(ctx context.Context, g *globalFlags, sf *sourceFlags, backend string) error {
	if err := resolveCredentials(ctx, g); err != nil {
		return err
	}
	adapter, databaseType, closeAdapter, err := buildAdapter(ctx, backend, g, sf)
	if err != nil {
		return err
	}
	defer closeAdapter()
	adapter = newInstrumentedAdapter(backend, adapter)

	writer, err := buildWriter(ctx, g, backend)
	if err != nil {
		return err
	}
	defer writer.Close()

	store, err := buildCheckpointStore(g)
	if err != nil {
		return err
	}

	coord := syncpkg.NewCoordinator(adapter, syncpkg.PassthroughConverter{}, writer, store, databaseType)
	opts := syncpkg.DefaultFullOptions()
	opts.EmitCheckpoints = g.emitCheckpoints
	opts.BatchSize = g.batchSize
	opts.MaxConcurrentTables = g.cfg.Run.MaxConcurrentTables

	slog.Info("starting full sync", "backend", backend)
	return coord.Full(ctx, opts)
}

func runIncremental(ctx context.Context, g *globalFlags, sf *sourceFlags, backend string) error {
	if err := resolveCredentials(ctx, g); err != nil {
		return err
	}
	adapter, databaseType, closeAdapter, err := buildAdapter(ctx, backend, g, sf)
	if err != nil {
		return err
	}
	defer closeAdapter()
	adapter = newInstrumentedAdapter(backend, adapter)

	writer, err := buildWriter(ctx, g, backend)
	if err != nil {
		return err
	}
	defer writer.Close()

	store, err := buildCheckpointStore(g)
	if err != nil {
		return err
	}

	lock, err := acquireSlotLock(ctx, g, fmt.Sprintf("%s:%s/incremental", backend, g.sourceDatabase))
	if err != nil {
		return err
	}
	if lock != nil {
		defer lock.Stop(context.Background())
	}

	if g.follow {
		healthy := true
		shutdown := startHealthServer(defaultHealthAddr(g.healthPort), func() bool { return healthy },
			func(ctx context.Context) error {
				if p, ok := writer.(pinger); ok {
					return p.Ping(ctx)
				}
				return nil
			},
			func(ctx context.Context) error {
				if p, ok := store.(pinger); ok {
					return p.Ping(ctx)
				}
				return nil
			})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		defer func() { healthy = false }()
	}

	coord := syncpkg.NewCoordinator(adapter, syncpkg.PassthroughConverter{}, writer, store, databaseType)
	opts := syncpkg.DefaultIncrementalOptions()
	opts.EmitCheckpoints = g.emitCheckpoints
	opts.BatchSize = g.batchSize

	if g.incrementalFrom != "" {
		env, ok, err := store.Load(ctx, g.incrementalFrom)
		if err != nil {
			return fmt.Errorf("load checkpoint tag %s: %w", g.incrementalFrom, err)
		}
		if !ok {
			return fmt.Errorf("no checkpoint persisted under tag %s", g.incrementalFrom)
		}
		cp := env.Checkpoint
		opts.From = &cp
	}
	if g.incrementalTo != "" {
		env, ok, err := store.Load(ctx, g.incrementalTo)
		if err != nil {
			return fmt.Errorf("load checkpoint tag %s: %w", g.incrementalTo, err)
		}
		if !ok {
			return fmt.Errorf("no checkpoint persisted under tag %s", g.incrementalTo)
		}
		cp := env.Checkpoint
		opts.To = &cp
	}
	if g.timeout > 0 {
		opts.Deadline = time.Now().Add(g.timeout)
	}

	slog.Info("starting incremental sync", "backend", backend)
	return coord.Incremental(ctx, opts)
}

func runDropCapture(ctx context.Context, g *globalFlags, sf *sourceFlags, backend string) error {
	if err := resolveCredentials(ctx, g); err != nil {
		return err
	}
	adapter, _, closeAdapter, err := buildAdapter(ctx, backend, g, sf)
	if err != nil {
		return err
	}
	defer closeAdapter()

	dropper, ok := adapter.(interface{ DropCapture(context.Context) error })
	if !ok {
		return fmt.Errorf("backend %s has no capture infrastructure to drop", backend)
	}
	slog.Info("dropping capture infrastructure", "backend", backend)
	return dropper.DropCapture(ctx)
}
