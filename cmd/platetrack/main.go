// Command platetrack turns per-frame licence plate detections into
// confirmed plate identities, logs them, and checks them against an
// allow-list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/plate.report/internal/config"
	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/version"
)

// errUsage marks errors already explained by printed usage.
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Fatalf("platetrack: %v", err)
	}
}

// app carries the resolved global settings into subcommands.
type app struct {
	env    config.Env
	tuning *config.TuningConfig
	out    io.Writer
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("platetrack", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		envFile         = fs.String("env", ".env", "Environment file with PLATE_* defaults")
		dbPath          = fs.String("db", "", "SQLite database path (default $PLATE_DB_PATH or plates.db)")
		tuningPath      = fs.String("config", "", "Tuning JSON file (default $PLATE_TUNING or built-in defaults)")
		detectorAddr    = fs.String("detector", "", "Inference service address host:port (default $PLATE_DETECTOR_ADDR)")
		detectorTimeout = fs.Duration("detector-timeout", 0, "Timeout per inference call (default $PLATE_DETECTOR_TIMEOUT or 5s)")
		listen          = fs.String("listen", "", "Serve the HTTP API and debug pages on this address (default $PLATE_LISTEN)")
		source          = fs.String("source", "", "Source name recorded with detections (default $PLATE_SOURCE or camera-0)")
		recognizeEvery  = fs.Int("recognize-every", 0, "Run recognition on every Nth frame (overrides the tuning file)")
		showVersion     = fs.Bool("version", false, "Print version and exit")
	)
	fs.Usage = func() { printUsage(stdout, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	if fs.NArg() < 1 {
		printUsage(stdout, fs)
		return errUsage
	}

	env, err := config.LoadEnv(*envFile)
	if err != nil {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}
	overrideString(&env.DBPath, *dbPath)
	overrideString(&env.TuningPath, *tuningPath)
	overrideString(&env.DetectorAddr, *detectorAddr)
	overrideString(&env.Listen, *listen)
	overrideString(&env.Source, *source)
	if *detectorTimeout > 0 {
		env.DetectorTimeout = *detectorTimeout
	}
	if *recognizeEvery > 0 {
		env.RecognizeEvery = *recognizeEvery
	}

	a := &app{env: env, out: stdout}
	command, cmdArgs := fs.Arg(0), fs.Args()[1:]

	switch command {
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help":
		printUsage(stdout, fs)
		return nil
	case "migrate":
		return db.RunMigrateCommand(cmdArgs, env.DBPath, stdout)
	}

	if a.tuning, err = loadTuning(env.TuningPath); err != nil {
		return err
	}

	switch command {
	case "run":
		return a.cmdRun(ctx, cmdArgs)
	case "serve":
		return a.cmdServe(ctx, cmdArgs)
	case "allow":
		return a.cmdAllow(ctx, cmdArgs)
	case "log":
		return a.cmdLog(ctx, cmdArgs)
	case "check":
		return a.cmdCheck(ctx, cmdArgs)
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n\n", command)
		printUsage(stdout, fs)
		return errUsage
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load tuning %s: %w", path, err)
	}
	log.Printf("loaded tuning config from %s", path)
	return cfg, nil
}

// openDB opens and migrates the configured database.
func (a *app) openDB() (*db.DB, error) {
	database, err := db.NewDB(a.env.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.env.DBPath, err)
	}
	return database, nil
}

func (a *app) recognizeEvery() int {
	if a.env.RecognizeEvery > 0 {
		return a.env.RecognizeEvery
	}
	return a.tuning.GetRecognizeEveryNFrames()
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprint(w, `platetrack - licence plate tracking and confirmation

Usage: platetrack [flags] <command> [args]

Commands:
  run       Track plates from a detection recording (-replay) or images (-images)
  serve     Serve the HTTP API and debug pages only
  allow     Manage the allow-list: add, list, remove
  log       Show recently confirmed plates
  check     Normalize a plate and show its allow-list status
  migrate   Manage database schema migrations
  version   Show version

Flags:
`)
	fs.PrintDefaults()
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second
