package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down, status
// and force. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Open without migrating; the action decides what runs.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ All migrations applied successfully")

	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Migration rolled back successfully")

	case "status":
		// printed below

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: platetrack migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q", args[1])
		}
		if err := database.MigrateForce(version); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Migration version forced to %d\n", version)

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}

	return printMigrateStatus(database, out)
}

func printMigrateStatus(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Database: %s\n", database.Path())
	fmt.Fprintf(out, "Current version: %d (latest %d)\n", version, latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(out, "  platetrack migrate force <version>")
	} else if version < latest {
		fmt.Fprintf(out, "%d migration(s) pending; run: platetrack migrate up\n", latest-version)
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: platetrack migrate <action>

Actions:
  up              Apply all pending migrations
  down            Roll back the most recent migration
  status          Show the current schema version
  force <version> Set the version without running migrations (recovery only)
  help            Show this help
`)
}
