// Package main is the entrypoint for the driveback CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/driveback/driveback/internal/backup"
	"github.com/driveback/driveback/internal/catalog"
	"github.com/driveback/driveback/internal/config"
	"github.com/driveback/driveback/internal/models"
	"github.com/driveback/driveback/internal/preflight"
	"github.com/driveback/driveback/internal/storage"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

// exitCodeError carries a process exit code out of a command's RunE so
// deferred cleanup (signal handlers, closed files) runs before main exits.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driveback",
		Short: "Driveback - periodic server backups with retention",
		Long: `Driveback dumps MySQL databases and archives files and directories,
uploads the artifacts to a remote store (Google Drive, S3 or a local
directory) and keeps only the newest N backups per target.

Configuration comes from BACKUP_* environment variables; file and
directory targets are listed in a YAML targets file.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newBackupCmd(),
		newStartCmd(),
		newCheckCmd(),
		newTargetsCmd(),
		newHistoryCmd(),
	)

	return rootCmd
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Driveback %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// buildStore constructs the configured remote store backend.
func buildStore(ctx context.Context, settings config.Settings, logger zerolog.Logger) (storage.Store, error) {
	switch settings.Store {
	case config.StoreDrive:
		if err := settings.Drive.Validate(); err != nil {
			return nil, err
		}
		return storage.NewDriveStore(ctx, settings.Drive, logger)
	case config.StoreS3:
		if err := settings.S3.Validate(); err != nil {
			return nil, err
		}
		return storage.NewS3Store(ctx, settings.S3, logger)
	case config.StoreLocal:
		return storage.NewLocalStore(settings.LocalStorePath, logger)
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrConfig, settings.Store)
	}
}

// loadTargets assembles the full target list, databases first so outcomes
// follow configuration order.
func loadTargets(settings config.Settings, databases, files bool) ([]models.Target, error) {
	var targets []models.Target

	if databases {
		dbTargets, err := config.DatabaseTargets(settings.Databases, settings.MaxDatabaseBackups)
		if err != nil {
			return nil, err
		}
		targets = append(targets, dbTargets...)
	}

	if files {
		fileTargets, err := config.LoadTargets(settings.TargetsFile)
		if err != nil {
			return nil, err
		}
		targets = append(targets, fileTargets...)
	}

	return targets, nil
}

func newBackupCmd() *cobra.Command {
	var (
		selectDatabases bool
		selectFiles     bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup of all configured targets",
		Long: `Run one backup pass: dump configured databases, archive configured
files and directories, upload everything to the remote store and prune
old backups past each target's keep count.

Exit code 0 means every target succeeded, 1 means at least one target
failed, 130 means the run was interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runDatabases, runFiles := selectCategories(selectDatabases, selectFiles)

			settings := config.Load()
			logger := newLogger(settings.Debug)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := runBackup(ctx, settings, logger, runDatabases, runFiles)
			if err != nil {
				return err
			}

			summary.Report(os.Stdout)
			if code := summary.ExitCode(); code != backup.ExitOK {
				cmd.SilenceErrors = true
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&selectDatabases, "databases", false, "Back up database targets")
	cmd.Flags().BoolVar(&selectFiles, "files", false, "Back up file and directory targets")

	return cmd
}

// selectCategories maps the backup command's selection flags to the
// categories to run. Each flag selects its category; passing neither or
// both means a full run of both categories.
func selectCategories(databases, files bool) (runDatabases, runFiles bool) {
	if databases == files {
		return true, true
	}
	return databases, files
}

// runBackup executes one full backup pass and records it in the history
// catalog.
func runBackup(ctx context.Context, settings config.Settings, logger zerolog.Logger, databases, files bool) (*backup.RunSummary, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	targets, err := loadTargets(settings, databases, files)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets configured", config.ErrConfig)
	}

	check := preflight.NewDiskCheck(settings.ScratchDir, settings.MinFreeBytes, logger)
	if err := check.Run(ctx); err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, settings, logger)
	if err != nil {
		return nil, err
	}

	dbProducer := backup.NewMySQLProducer(settings.MySQL, settings.Prefix, settings.CompressionLevel, logger)
	fileProducer := backup.NewArchiveProducer(settings.Prefix, settings.CompressionLevel, logger)

	orch := backup.NewOrchestrator(backup.OrchestratorConfig{
		Prefix:          settings.Prefix,
		RootFolderName:  settings.RootFolderName,
		ScratchDir:      settings.ScratchDir,
		FileConcurrency: settings.FileConcurrency,
	}, store, dbProducer, fileProducer, logger)

	summary, err := orch.Run(ctx, targets)
	if err != nil {
		return nil, err
	}

	if c, err := catalog.Open(settings.HistoryPath, logger); err != nil {
		logger.Warn().Err(err).Msg("history catalog unavailable, run not recorded")
	} else {
		if err := c.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
			logger.Warn().Err(err).Msg("failed to record run history")
		}
		c.Close()
	}

	return summary, nil
}

func newStartCmd() *cobra.Command {
	var cronExpr string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run backups on a schedule",
		Long: `Start driveback as a long-running process that executes a full backup
on a cron schedule. If a run is still in progress when the next tick
fires, the tick is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Load()
			if cronExpr != "" {
				settings.CronExpression = cronExpr
			}
			if err := settings.Validate(); err != nil {
				return err
			}
			return runDaemon(settings)
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (overrides BACKUP_CRON)")

	return cmd
}

func runDaemon(settings config.Settings) error {
	logger := newLogger(settings.Debug)

	fmt.Printf("Driveback %s starting...\n", Version)
	fmt.Printf("Schedule: %s\n", settings.CronExpression)
	fmt.Printf("Store: %s\n", settings.Store)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var running atomic.Bool

	scheduler := cron.New()
	_, err := scheduler.AddFunc(settings.CronExpression, func() {
		if !running.CompareAndSwap(false, true) {
			logger.Warn().Msg("previous backup still running, skipping this tick")
			return
		}
		defer running.Store(false)

		logger.Info().Msg("scheduled backup starting")
		summary, err := runBackup(ctx, settings, logger, true, true)
		if err != nil {
			logger.Error().Err(err).Msg("scheduled backup failed")
			return
		}
		logger.Info().
			Int("succeeded", summary.Succeeded()).
			Bool("failed", summary.Failed()).
			Msg("scheduled backup finished")
	})
	if err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", config.ErrConfig, settings.CronExpression, err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	fmt.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("\nShutting down...")

	// Let an in-flight run finish its current target before exiting.
	for running.Load() {
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify configuration, connectivity and disk space",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Load()
			logger := newLogger(settings.Debug)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			failed := false
			report := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Printf("  FAIL  %-14s %v\n", name, err)
					return
				}
				fmt.Printf("  ok    %s\n", name)
			}

			report("settings", settings.Validate())

			_, err := loadTargets(settings, true, true)
			report("targets", err)

			check := preflight.NewDiskCheck(settings.ScratchDir, settings.MinFreeBytes, logger)
			report("disk space", check.Run(ctx))

			_, storeErr := buildStore(ctx, settings, logger)
			report("remote store", storeErr)

			if len(settings.Databases) > 0 {
				producer := backup.NewMySQLProducer(settings.MySQL, settings.Prefix, settings.CompressionLevel, logger)
				report("mysql", producer.TestConnection(ctx))
			}

			if failed {
				cmd.SilenceErrors = true
				return &exitCodeError{code: backup.ExitFailed}
			}
			fmt.Println("\nAll checks passed.")
			return nil
		},
	}
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List configured backup targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Load()
			if err := settings.Validate(); err != nil {
				return err
			}

			targets, err := loadTargets(settings, true, true)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Println("No targets configured.")
				return nil
			}

			fmt.Printf("%-10s %-20s %-8s %s\n", "KIND", "NAME", "KEEP", "SOURCE")
			for _, t := range targets {
				fmt.Printf("%-10s %-20s %-8d %s\n", t.Kind, t.Name, t.MaxBackups, t.Source)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Load()
			logger := newLogger(settings.Debug)

			c, err := catalog.Open(settings.HistoryPath, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			runs, err := c.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			for i, run := range runs {
				if i > 0 {
					fmt.Println()
				}
				run.Report(os.Stdout)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")

	return cmd
}
