package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema change. Files under migrations/ are named
// NNN_name.sql and applied in version order exactly once.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies pending schema migrations against ClickHouse, tracking
// what ran in a schema_migrations table.
type Migrator struct {
	client *ClickHouseClient
	logger *slog.Logger
}

// NewMigrator creates a migrator for the given client.
func NewMigrator(client *ClickHouseClient) *Migrator {
	return &Migrator{
		client: client,
		logger: slog.Default().With("component", "migrator"),
	}
}

// Run applies every migration not yet recorded in schema_migrations.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.ensureTrackingTable(ctx); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("storage: load migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("storage: read applied migrations: %w", err)
	}

	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

// apply runs every statement of one migration, then records it.
func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	m.logger.Info("applying migration", "version", mig.Version, "name", mig.Name)

	for _, stmt := range splitStatements(mig.SQL) {
		if stmt = stripComments(stmt); stmt == "" {
			continue
		}
		if err := m.client.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}

	if err := m.client.Exec(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		uint32(mig.Version), mig.Name,
	); err != nil {
		return fmt.Errorf("storage: record migration %d: %w", mig.Version, err)
	}

	m.logger.Info("migration applied", "version", mig.Version, "name", mig.Name)
	return nil
}

func (m *Migrator) ensureTrackingTable(ctx context.Context) error {
	return m.client.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version UInt32,
			name String,
			applied_at DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		ORDER BY version
	`)
}

// loadMigrations reads the embedded migration files, sorted by version.
// Files that do not match the NNN_name.sql pattern are ignored.
func (m *Migrator) loadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%03d_%s", &version, &name); err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.client.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version uint32
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[int(version)] = true
	}
	return applied, nil
}

// GetAppliedMigrations returns the recorded migrations in version order, for
// the stats endpoint.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	rows, err := m.client.Query(ctx, "SELECT version, name FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var migrations []Migration
	for rows.Next() {
		var version uint32
		var name string
		if err := rows.Scan(&version, &name); err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: int(version), Name: name})
	}
	return migrations, nil
}

// stripComments drops "--" line comments and trims the statement.
func stripComments(stmt string) string {
	var kept []string
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// splitStatements splits SQL on semicolons, honoring quoted literals so a
// semicolon inside a string does not end the statement. Doubled quotes inside
// a literal are the SQL escape and stay part of it.
func splitStatements(sql string) []string {
	var out []string
	var cur strings.Builder
	var quote rune

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			cur.WriteRune(c)
			if c == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					cur.WriteRune(runes[i+1])
					i++
					continue
				}
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteRune(c)
		case c == ';':
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return out
}
