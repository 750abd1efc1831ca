package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stoneforge-ai/stoneforge/internal/config"
	"github.com/stoneforge-ai/stoneforge/internal/eventbus"
	"github.com/stoneforge-ai/stoneforge/internal/logging"
	"github.com/stoneforge-ai/stoneforge/internal/storage"
	"github.com/stoneforge-ai/stoneforge/internal/storage/sqlite"
	syncer "github.com/stoneforge-ai/stoneforge/internal/sync"
	"github.com/stoneforge-ai/stoneforge/internal/telemetry"
	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var version = "0.4.0-dev"

var (
	flagDir   string
	flagJSON  bool
	flagQuiet bool
	flagActor string

	cfg    *config.Config
	logger *slog.Logger
	store  storage.Store
	bus    *eventbus.Bus
)

// errFlagParse marks cobra flag errors so Execute can map them to the
// invalid-args exit code.
var errFlagParse = errors.New("invalid arguments")

var rootCmd = &cobra.Command{
	Use:           "stoneforge",
	Short:         "Agent orchestration on a local-first element store",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", ".", "repository root holding the .stoneforge workspace")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "override the acting identity")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errFlagParse, err)
	})

	rootCmd.AddCommand(
		initCmd, infoCmd,
		createCmd, showCmd, listCmd, updateCmd, closeCmd, deleteCmd,
		deferCmd, undeferCmd,
		depCmd, readyCmd, blockedCmd, backlogCmd,
		exportCmd, importCmd,
		dispatchCmd, poolCmd,
		agentsCmd, stewardCmd,
		serveCmd,
	)
}

// Execute runs the CLI and maps errors onto process exit codes:
// 0 success, 1 general, 2 invalid-args, 3 not-found, 4 validation,
// 5 permission.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, renderError(err))
	if errors.Is(err, errFlagParse) {
		return 2
	}
	var se *types.Error
	if errors.As(err, &se) {
		return se.ExitCode()
	}
	return 1
}

func setup(cmd *cobra.Command, args []string) error {
	workspace := filepath.Join(flagDir, config.WorkspaceDir)
	if err := os.MkdirAll(filepath.Join(workspace, "sync"), 0o755); err != nil {
		return types.WrapError(types.KindStorage, types.CodeDatabaseError, "create workspace directory", err)
	}

	var err error
	cfg, err = config.Load(workspace)
	if err != nil {
		return err
	}
	if flagActor != "" {
		cfg.Actor = flagActor
	}

	logFile := cfg.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(workspace, logFile)
	}
	logger = logging.Setup(logging.Options{
		Level:     cfg.Log.Level,
		File:      logFile,
		MaxSizeMB: cfg.Log.MaxSize,
		Backups:   cfg.Log.Backups,
		Quiet:     flagQuiet,
	})

	if err := telemetry.Init(cmd.Context(), "stoneforge", version); err != nil {
		logger.Warn("telemetry init failed", "error", err)
	}

	store, err = sqlite.New(cmd.Context(), cfg.DatabasePath())
	if err != nil {
		return err
	}

	bus = eventbus.New(logger)
	bus.Register(telemetry.NewBusHandler())
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}
	return telemetry.Shutdown(cmd.Context())
}

// newSyncer builds a Syncer over the workspace sync directory.
func newSyncer() *syncer.Syncer {
	return syncer.New(store, bus, logger, syncer.Options{
		Dir:              cfg.SyncDir(),
		ElementsFile:     cfg.Sync.ElementsFile,
		DependenciesFile: cfg.Sync.DependenciesFile,
	})
}

// autoExport flushes dirty elements to the JSONL files after a mutating
// command, when the workspace opts in. Failures are logged, not fatal:
// the database already holds the change.
func autoExport(cmd *cobra.Command) {
	if !cfg.Sync.AutoExport {
		return
	}
	if _, err := newSyncer().Export(cmd.Context(), false); err != nil {
		logger.Warn("auto-export failed", "error", err)
	}
}

func publish(cmd *cobra.Command, ev *eventbus.Event) {
	if _, err := bus.Dispatch(cmd.Context(), ev); err != nil {
		logger.Warn("event dispatch failed", "event", string(ev.Type), "error", err)
	}
}
