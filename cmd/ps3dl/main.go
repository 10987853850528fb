package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PS3DL/internal/config"
	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/errors/logging"
	"PS3DL/internal/history"
	"PS3DL/internal/logger"
	"PS3DL/internal/pipeline"
	"PS3DL/internal/ui"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	opts, flagSet, err := parseOptions(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		printHelp(os.Stderr, flagSet)
		return 2
	}
	if opts.help {
		printHelp(os.Stdout, flagSet)
		return 0
	}
	if opts.version {
		fmt.Println("ps3dl", version)
		return 0
	}

	// a missing .env is fine; variables may come from the shell
	_ = godotenv.Load()

	log := logger.NewCLILogger(opts.verbose, opts.jsonLogs)
	console := ui.NewConsole(log, os.Stderr)
	printer := ui.NewPrinter(os.Stdout)

	cfg, err := loadConfig(opts)
	if err != nil {
		logging.Error(ctx, log, "failed to load configuration", err)
		return 1
	}
	if err := cfg.EnsureLayout(); err != nil {
		logging.Error(ctx, log, "failed to prepare working folders", err)
		return 1
	}

	repo, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		logging.Warn(ctx, log, "acquisition history unavailable", err)
		repo = nil
	} else {
		defer repo.Close()
	}

	if opts.showHistory {
		return listHistory(ctx, log, console, printer, repo)
	}

	var p prompter
	if isTerminal(os.Stdin) && !opts.jsonLogs {
		p = terminalPrompter{}
	}
	target, err := buildTarget(opts, p)
	if err != nil {
		logging.Error(ctx, log, "invalid target", err)
		return 2
	}

	if !opts.jsonLogs {
		printer.PrintBanner(version)
	}

	var ledger history.Repository
	if repo != nil {
		ledger = repo
	}
	acquirer, err := pipeline.Build(cfg, log, console.Reporter(), ledger, pipeline.WithRefreshKeys(opts.refreshKeys))
	if err != nil {
		logging.Error(ctx, log, "failed to initialise pipeline", err)
		return 1
	}

	outcome, err := acquirer.Acquire(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Interrupted, partial files are kept for the next run")
		}
		logging.Error(ctx, log, "acquisition failed", err)
		printer.PrintFailure(target.DisplayTitle(), err)
		return exitCode(err)
	}

	printer.PrintSummary(ui.Summary{
		Title:    target.DisplayTitle(),
		TargetID: target.ID,
		Artifact: outcome.ArtifactPath,
		Bytes:    outcome.Decrypt.OutputBytes,
		Skipped:  outcome.Skipped,
		Renamed:  outcome.Renamed,
		Elapsed:  outcome.Elapsed,
	})
	return 0
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(opts, os.LookupEnv))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if opts.noRename {
		disabled := false
		cfg.Descriptor.Enabled = &disabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func listHistory(ctx context.Context, log logger.Logger, console *ui.Console, printer *ui.Printer, repo *history.SQLiteRepository) int {
	if repo == nil {
		log.Error("No acquisition history available")
		return 1
	}

	console.StartProgress("Reading history")
	runs, err := repo.Recent(ctx, 20)
	console.StopProgress("")
	if err != nil {
		logging.Error(ctx, log, "failed to read history", err)
		return 1
	}
	printer.PrintHistory(runs)
	return 0
}

// exitCode maps error categories to process exit codes.
func exitCode(err error) int {
	switch apperrors.CategoryOf(err) {
	case apperrors.ErrCategoryNotFound:
		return 3
	case apperrors.ErrCategoryDependency:
		return 4
	case apperrors.ErrCategoryNetwork:
		return 5
	case apperrors.ErrCategoryProcess:
		return 6
	default:
		return 1
	}
}
