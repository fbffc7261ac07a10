// Command migrate applies the api_key_usage schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	dbURL := flag.String("db-url", "", "database URL (overrides config and env)")
	configDir := flag.String("config", "configs", "configuration directory used when no URL is given")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	flag.Parse()

	dsn, err := resolveDSN(*dbURL, *configDir)
	if err != nil {
		log.Fatalf("resolve database url: %v", err)
	}

	m, err := migrate.New("file://"+*migrationsPath, dsn)
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}
	defer m.Close()

	switch {
	case *direction == "up" && *steps > 0:
		err = m.Steps(*steps)
	case *direction == "up":
		err = m.Up()
	case *direction == "down" && *steps > 0:
		err = m.Steps(-*steps)
	case *direction == "down":
		err = m.Down()
	default:
		log.Fatalf("invalid direction: %s (use 'up' or 'down')", *direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}

	v, dirty, _ := m.Version()
	fmt.Printf("migration %s complete (version: %d, dirty: %v)\n", *direction, v, dirty)
}

// resolveDSN prefers the flag, then DATABASE_URL, then the database
// section of gateway.yaml.
func resolveDSN(flagURL, configDir string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env, nil
	}
	loader := config.NewLoader(configDir, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err := loader.Load(); err != nil {
		return "", err
	}
	db := loader.Config().Database
	if db.Host == "" {
		return "", errors.New("no database configured")
	}
	return db.DSN(), nil
}
