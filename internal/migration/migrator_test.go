package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDatabaseType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewMigrator_RequiresConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.Error(t, err)

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.Error(t, err)
}

func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "router.db")
	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  dbPath,
		TableName:    "schema_migrations",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMigrator_UpDownRoundTrip(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 1, version)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, st := range statuses {
		assert.True(t, st.Applied, st.Name)
	}

	require.NoError(t, m.DownAll(ctx))
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))
}

func TestMigrator_AvailableMigrationsEmbedded(t *testing.T) {
	m := newSQLiteMigrator(t)

	files, err := m.getAvailableMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Contains(t, files[0].name, "init_schema")
}
