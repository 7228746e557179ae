package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"churchadmin/internal/config"
	"churchadmin/internal/database"
	"churchadmin/internal/database/migrations"
	"churchadmin/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

func main() {
	var (
		command = flag.String("command", "", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Int("version", 0, "Migration version (for force)")
	)
	flag.Parse()

	if *command == "" {
		printUsage()
		os.Exit(1)
	}

	cfg := config.NewConfig()
	log := logger.New(cfg, nil).Logger

	m, closeDB, err := newMigrator(cfg.Database)
	if err != nil {
		log.Error("Failed to create migration instance", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	if err := run(m, *command, *steps, *version); err != nil {
		log.Error("Migration failed", "command", *command, "error", err)
		os.Exit(1)
	}
}

func newMigrator(cfg config.DatabaseConfig) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", database.URL(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return m, func() {
		_, _ = m.Close()
	}, nil
}

func run(m *migrate.Migrate, command string, steps, version int) error {
	switch command {
	case "up":
		var err error
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
		return report(err, "Migrations applied successfully", "No migrations to apply")

	case "down":
		if steps <= 0 {
			steps = 1
		}
		return report(m.Steps(-steps), "Migrations rolled back successfully", "No migrations to rollback")

	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		fmt.Printf("Current version: %d (dirty: %t)\n", v, dirty)
		return nil

	case "force":
		if version == 0 {
			return errors.New("version number required for force command")
		}
		if err := m.Force(version); err != nil {
			return err
		}
		fmt.Printf("Migration version forced to %d\n", version)
		return nil

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func report(err error, done, unchanged string) error {
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println(unchanged)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(done)
	return nil
}

func printUsage() {
	fmt.Println("Usage: migrate -command [up|down|version|force] [options]")
	fmt.Println("Options:")
	fmt.Println("  -steps N       Number of steps for up/down")
	fmt.Println("  -version N     Version number for force")
}
