package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedyboard/internal/db"
	"remedyboard/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	v1, err := migrate.MigrateContext(ctx, conn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v1, 1)

	v2, err := migrate.MigrateContext(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name IN ('actions','events','users','orgs','org_configs')`).Scan(&n))
	assert.Equal(t, 5, n)
}

func TestStatusCheckConstraint(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	_, err = conn.Exec(`INSERT INTO orgs(id,name,created_at) VALUES ('o','O','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO actions(id,org_id,title,description,status,priority,created_at,updated_at)
VALUES ('a','o','t','d','done','low','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`)
	assert.Error(t, err, "unknown status must be rejected by the schema")
}
