package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/migration"
	"github.com/erp/catalogsync/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// cli carries what every command needs. dir is empty when the migrations
// compiled into the binary are used.
type cli struct {
	log    *zap.Logger
	dir    string
	source fs.FS
	args   []string
}

type command struct {
	needsDB bool
	run     func(c *cli, m *migration.Migrator) error
}

var commands = map[string]command{
	"up":      {needsDB: true, run: func(_ *cli, m *migration.Migrator) error { return m.Up() }},
	"down":    {needsDB: true, run: func(_ *cli, m *migration.Migrator) error { return m.Down() }},
	"step":    {needsDB: true, run: runStep},
	"goto":    {needsDB: true, run: runGoto},
	"version": {needsDB: true, run: runVersion},
	"status":  {needsDB: true, run: runStatus},
	"force":   {needsDB: true, run: runForce},
	"drop":    {needsDB: true, run: runDrop},
	"create":  {run: runCreate},
	"list":    {run: runList},
}

func main() {
	var dir, logLevel string
	flag.StringVar(&dir, "path", "", "Migrations directory (default: migrations compiled into the binary)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
		Service:    "catalogsync-migrate",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	c := &cli{log: log, source: migrations.FS, args: args[1:]}
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			log.Fatal("Failed to resolve migrations path", zap.Error(err))
		}
		c.dir = abs
		c.source = os.DirFS(abs)
	}
	log.Info("Migration CLI started",
		zap.String("command", args[0]),
		zap.String("migrations", c.describeSource()),
	)

	if !cmd.needsDB {
		if err := cmd.run(c, nil); err != nil {
			log.Fatal("Command failed", zap.String("command", args[0]), zap.Error(err))
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	// Closing the migrator also closes db
	m, err := c.migrator(db)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer m.Close()

	if err := cmd.run(c, m); err != nil {
		log.Error("Command failed", zap.String("command", args[0]), zap.Error(err))
		_ = m.Close()
		os.Exit(1)
	}
}

func (c *cli) migrator(db *sql.DB) (*migration.Migrator, error) {
	if c.dir != "" {
		return migration.New(db, c.dir, c.log)
	}
	return migration.NewFromFS(db, c.source, c.log)
}

func (c *cli) describeSource() string {
	if c.dir == "" {
		return "embedded"
	}
	return c.dir
}

func (c *cli) arg(i int, usage string) (string, error) {
	if len(c.args) <= i {
		return "", fmt.Errorf("missing argument, usage: migrate %s", usage)
	}
	return c.args[i], nil
}

func runStep(c *cli, m *migration.Migrator) error {
	raw, err := c.arg(0, "step <n>")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid step count %q", raw)
	}
	return m.Steps(n)
}

func runGoto(c *cli, m *migration.Migrator) error {
	raw, err := c.arg(0, "goto <version>")
	if err != nil {
		return err
	}
	version, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version %q", raw)
	}
	return m.GoTo(uint(version))
}

func runVersion(c *cli, m *migration.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		c.log.Info("No migrations applied")
		return nil
	}
	c.log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// runStatus prints every known migration with whether it is applied
func runStatus(c *cli, m *migration.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	names, err := migration.ListMigrations(c.source)
	if err != nil {
		return err
	}
	for _, name := range names {
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return fmt.Errorf("migration %s has no numeric version", name)
		}
		state := "pending"
		if uint(v) <= version {
			state = "applied"
		}
		if uint(v) == version && dirty {
			state = "dirty"
		}
		fmt.Printf("  %-8s %s\n", state, name)
	}
	return nil
}

func runForce(c *cli, m *migration.Migrator) error {
	raw, err := c.arg(0, "force <version>")
	if err != nil {
		return err
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid version %q", raw)
	}
	c.log.Warn("Forcing migration version", zap.Int("version", version))
	return m.Force(version)
}

func runDrop(c *cli, m *migration.Migrator) error {
	for _, a := range c.args {
		if a == "-confirm" || a == "--confirm" {
			c.log.Warn("Dropping every database object")
			return m.Drop()
		}
	}
	return fmt.Errorf("drop removes every table; rerun as 'migrate drop -confirm'")
}

func runCreate(c *cli, _ *migration.Migrator) error {
	if c.dir == "" {
		return fmt.Errorf("create writes files and needs -path")
	}
	name, err := c.arg(0, "-path <dir> create <name> [description]")
	if err != nil {
		return err
	}
	description := ""
	if len(c.args) > 1 {
		description = c.args[1]
	}

	mf, err := migration.CreateMigration(c.dir, name, description)
	if err != nil {
		return err
	}
	c.log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func runList(c *cli, _ *migration.Migrator) error {
	names, err := migration.ListMigrations(c.source)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		c.log.Info("No migrations found")
		return nil
	}
	for _, name := range names {
		fmt.Println("  -", name)
	}
	return nil
}

func printUsage() {
	fmt.Println(`Catalog Sync Database Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  goto <version>        Migrate to a specific version
  version               Show current migration version
  status                List migrations with their applied state
  force <version>       Force set migration version (use with caution)
  drop -confirm         Drop all database objects
  create <name> [desc]  Create the next migration file pair (requires -path)
  list                  List available migrations

Flags:
  -path string          Migrations directory (default: embedded migrations)
  -log-level string     Log level: debug, info, warn, error (default: info)

Environment Variables:
  CATSYNC_DATABASE_HOST, CATSYNC_DATABASE_PORT, CATSYNC_DATABASE_USER,
  CATSYNC_DATABASE_PASSWORD, CATSYNC_DATABASE_DBNAME, CATSYNC_DATABASE_SSLMODE

Examples:
  migrate up
  migrate step -1
  migrate -path ./migrations create add_offer_index "Index offers by disable date"
  migrate status`)
}
