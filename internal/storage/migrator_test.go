package storage

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type mockRows struct {
	versions []uint32
	pos      int
}

func (m *mockRows) Next() bool {
	if m.pos >= len(m.versions) {
		return false
	}
	m.pos++
	return true
}

func (m *mockRows) Scan(dest ...any) error {
	if len(dest) > 0 {
		if v, ok := dest[0].(*uint32); ok {
			*v = m.versions[m.pos-1]
		}
	}
	return nil
}

func (m *mockRows) ScanStruct(_ any) error           { return nil }
func (m *mockRows) ColumnTypes() []driver.ColumnType { return nil }
func (m *mockRows) Totals(_ ...any) error            { return nil }
func (m *mockRows) Columns() []string                { return nil }
func (m *mockRows) Close() error                     { return nil }
func (m *mockRows) Err() error                       { return nil }

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "single statement",
			sql:      "CREATE TABLE test (id INT)",
			expected: []string{"CREATE TABLE test (id INT)"},
		},
		{
			name:     "multiple statements",
			sql:      "CREATE TABLE a (id INT); CREATE TABLE b (id INT)",
			expected: []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"},
		},
		{
			name:     "semicolon inside string literal",
			sql:      "INSERT INTO t VALUES ('hello; world')",
			expected: []string{"INSERT INTO t VALUES ('hello; world')"},
		},
		{
			name:     "trailing semicolon",
			sql:      "CREATE TABLE test (id INT);",
			expected: []string{"CREATE TABLE test (id INT)"},
		},
		{
			name:     "empty string",
			sql:      "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitStatements(tt.sql)

			if len(result) != len(tt.expected) {
				t.Fatalf("splitStatements() returned %d statements, want %d: %v",
					len(result), len(tt.expected), result)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("statement[%d] = %q, want %q", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	m := &Migrator{}
	migrations, err := m.loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("loadMigrations() returned %d migrations, want 2", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "create_events" {
		t.Errorf("migration[0] = %d %q, want 1 create_events",
			migrations[0].Version, migrations[0].Name)
	}
	if migrations[1].Version != 2 || migrations[1].Name != "create_alerts" {
		t.Errorf("migration[1] = %d %q, want 2 create_alerts",
			migrations[1].Version, migrations[1].Name)
	}
	for _, mig := range migrations {
		if !strings.Contains(mig.SQL, "CREATE TABLE IF NOT EXISTS") {
			t.Errorf("migration %d missing CREATE TABLE statement", mig.Version)
		}
	}
}

func TestMigratorRunAppliesPending(t *testing.T) {
	var mu sync.Mutex
	var execs []string

	conn := &mockConn{
		execFunc: func(_ context.Context, query string, _ ...any) error {
			mu.Lock()
			execs = append(execs, query)
			mu.Unlock()
			return nil
		},
		queryFunc: func(_ context.Context, _ string, _ ...any) (driver.Rows, error) {
			return &mockRows{}, nil
		},
	}

	m := NewMigrator(newMockClient(conn))
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var creates, records int
	for _, q := range execs {
		if strings.Contains(q, "CREATE TABLE IF NOT EXISTS events") ||
			strings.Contains(q, "CREATE TABLE IF NOT EXISTS alerts") {
			creates++
		}
		if strings.Contains(q, "INSERT INTO schema_migrations") {
			records++
		}
	}
	if creates != 2 {
		t.Errorf("table creates = %d, want 2", creates)
	}
	if records != 2 {
		t.Errorf("recorded migrations = %d, want 2", records)
	}
}

func TestMigratorRunSkipsApplied(t *testing.T) {
	var mu sync.Mutex
	var execs []string

	conn := &mockConn{
		execFunc: func(_ context.Context, query string, _ ...any) error {
			mu.Lock()
			execs = append(execs, query)
			mu.Unlock()
			return nil
		},
		queryFunc: func(_ context.Context, _ string, _ ...any) (driver.Rows, error) {
			return &mockRows{versions: []uint32{1, 2}}, nil
		},
	}

	m := NewMigrator(newMockClient(conn))
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, q := range execs {
		if strings.Contains(q, "INSERT INTO schema_migrations") {
			t.Errorf("applied migration was re-recorded: %q", q)
		}
	}
}
