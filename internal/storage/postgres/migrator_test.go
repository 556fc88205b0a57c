package postgres

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSchemaChanges_Embedded(t *testing.T) {
	t.Parallel()

	changes, err := readSchemaChanges(migrationsFS)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	assert.Equal(t, "catalog", changes[0].Name)
	assert.Equal(t, "carts_orders", changes[1].Name)
	assert.Equal(t, "outbox_timeline_checkout_keys", changes[2].Name)
	assert.Contains(t, changes[1].Up, "uq_carts_open_customer")
	assert.Contains(t, changes[2].Up, "checkout_keys")
	for _, change := range changes {
		assert.Len(t, change.Checksum, 64, change.Name)
	}
}

func TestReadSchemaChanges_OrdersByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0010_sizes.up.sql":     {Data: []byte("CREATE TABLE sizes (id INT);")},
		"sql/migrations/0010_sizes.down.sql":   {Data: []byte("DROP TABLE IF EXISTS sizes;")},
		"sql/migrations/0002_catalog.up.sql":   {Data: []byte("CREATE TABLE products (id INT);")},
		"sql/migrations/0002_catalog.down.sql": {Data: []byte("DROP TABLE IF EXISTS products;")},
	}

	changes, err := readSchemaChanges(fsys)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, 2, changes[0].Version)
	assert.Equal(t, "catalog", changes[0].Name)
	assert.Equal(t, 10, changes[1].Version)
	assert.Equal(t, "sizes", changes[1].Name)
	assert.NotEqual(t, changes[0].Checksum, changes[1].Checksum)
}

func TestReadSchemaChanges_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fsys    fstest.MapFS
		message string
	}{
		"missing down": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql": {Data: []byte("CREATE TABLE products (id INT);")},
			},
			message: "both up and down",
		},
		"invalid filename": {
			fsys: fstest.MapFS{
				"sql/migrations/catalog.sql": {Data: []byte("SELECT 1;")},
			},
			message: "invalid migration file name",
		},
		"zero version": {
			fsys: fstest.MapFS{
				"sql/migrations/0000_catalog.up.sql": {Data: []byte("SELECT 1;")},
			},
			message: "invalid migration file name",
		},
		"empty body": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql":   {Data: []byte("   \n")},
				"sql/migrations/0001_catalog.down.sql": {Data: []byte("DROP TABLE IF EXISTS products;")},
			},
			message: "is empty",
		},
		"two names": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql": {Data: []byte("SELECT 1;")},
				"sql/migrations/0001_carts.down.sql": {Data: []byte("SELECT 1;")},
			},
			message: "two names",
		},
		"no files": {
			fsys:    fstest.MapFS{"sql/migrations/README": {Data: []byte("x")}},
			message: "invalid migration file name",
		},
		"no directory": {
			fsys:    fstest.MapFS{},
			message: "list migrations",
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := readSchemaChanges(tc.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestCheckDrift(t *testing.T) {
	t.Parallel()

	changes, err := readSchemaChanges(migrationsFS)
	require.NoError(t, err)

	applied := map[int]string{changes[0].Version: changes[0].Checksum}
	require.NoError(t, checkDrift(changes, applied))

	applied[changes[1].Version] = "edited"
	err = checkDrift(changes, applied)
	require.ErrorIs(t, err, ErrSchemaDrift)
	assert.Contains(t, err.Error(), "carts_orders")
}

func TestMigrator_NilGuards(t *testing.T) {
	t.Parallel()

	var store *Store
	m := store.Migrator()
	ctx := context.Background()

	require.ErrorIs(t, m.Up(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, m.Down(ctx, 1), errStoreNotInitialized)
	_, err := m.Status(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)
}
