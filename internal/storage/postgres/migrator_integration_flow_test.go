package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireMigrationStatus(t *testing.T, store *Store, version int64, count int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gotVersion, gotCount, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, version, gotVersion, "version")
	require.Equal(t, count, gotCount, "applied count")
}

func TestMigrator_UpDownRoundTrip(t *testing.T) {
	store := openRawStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))
	requireMigrationStatus(t, store, 0, 0)

	pending, err := store.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_core_schema", "0002_outbox"}, pending)

	require.NoError(t, store.MigrateUp(ctx, 1))
	requireMigrationStatus(t, store, 1, 1)

	require.NoError(t, store.MigrateUp(ctx, 0))
	requireMigrationStatus(t, store, 2, 2)

	require.NoError(t, store.MigrateUp(ctx, 0))
	requireMigrationStatus(t, store, 2, 2)

	pending, err = store.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, store.MigrateDown(ctx, 0))
	requireMigrationStatus(t, store, 1, 1)

	require.NoError(t, store.MigrateDown(ctx, 5))
	requireMigrationStatus(t, store, 0, 0)

	require.NoError(t, store.MigrateDown(ctx, 1), "down on empty schema is a no-op")
	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_DetectsDrift(t *testing.T) {
	store := openRawStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateUp(ctx, 0))

	_, err := store.DB().ExecContext(ctx, `UPDATE erp_schema_migrations SET checksum = 'edited' WHERE version = 1`)
	require.NoError(t, err)
	t.Cleanup(func() {
		restore := migration{}
		migrations, loadErr := loadMigrationsFromFS(migrationsFS)
		if loadErr == nil {
			restore = migrations[0]
		}
		_, _ = store.DB().ExecContext(context.Background(),
			`UPDATE erp_schema_migrations SET checksum = $1 WHERE version = 1`, restore.checksum())
	})

	err = store.MigrateUp(ctx, 0)
	require.ErrorIs(t, err, ErrMigrationDrift)
}

func TestMigrator_NilStoreAndBadDirection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var nilStore *Store
	assert.Error(t, nilStore.MigrateUp(ctx, 0))
	assert.Error(t, nilStore.MigrateDown(ctx, 1))
	_, _, err := nilStore.MigrationStatus(ctx)
	assert.Error(t, err)
	_, err = nilStore.PendingMigrations(ctx)
	assert.Error(t, err)

	err = (&Store{}).migrate(ctx, migrationDirection("sideways"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported migration direction")
}
