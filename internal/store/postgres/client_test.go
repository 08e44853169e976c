package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/insightra?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "insightra"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestListClause(t *testing.T) {
	since := time.Unix(100, 0)
	query, args := listClause("SELECT 1 FROM t WHERE a = $1", []any{"a"},
		domain.ListOpts{Limit: 10, Offset: 5, Since: &since}, "at", "at DESC")

	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND at >= $2 ORDER BY at DESC LIMIT $3 OFFSET $4", query)
	require.Len(t, args, 4)
	assert.Equal(t, since, args[1])
	assert.Equal(t, 10, args[2])
	assert.Equal(t, 5, args[3])
}

func TestListClauseNoOpts(t *testing.T) {
	query, args := listClause("SELECT 1 FROM t WHERE 1=1", nil, domain.ListOpts{}, "at", "at ASC")
	assert.Equal(t, "SELECT 1 FROM t WHERE 1=1 ORDER BY at ASC", query)
	assert.Empty(t, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_initial.sql", entries[0].Name())
}
