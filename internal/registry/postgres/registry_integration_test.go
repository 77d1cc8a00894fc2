//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/tenantctl/internal/registry"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*Registry, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	reg, err := NewRegistry(ctx, &PoolConfig{
		ConnString:  connString,
		AutoMigrate: true,
	})
	require.NoError(t, err)

	cleanup := func() {
		reg.Close()
		_ = container.Terminate(ctx)
	}

	return reg, cleanup
}

func TestIntegration_RegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	reg, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	t.Run("get missing record", func(t *testing.T) {
		_, err := reg.Get(ctx, "ghost")
		require.ErrorIs(t, err, registry.ErrRecordNotFound)
	})

	t.Run("begin operation creates record", func(t *testing.T) {
		err := reg.BeginOperation(ctx, "acme", registry.StatusCreateInProgress)
		require.NoError(t, err)

		rec, err := reg.Get(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, registry.StatusCreateInProgress, rec.Status)
		require.False(t, rec.LastModified.IsZero())
	})

	t.Run("second operation is refused while in progress", func(t *testing.T) {
		err := reg.BeginOperation(ctx, "acme", registry.StatusDeleteInProgress)
		require.ErrorIs(t, err, registry.ErrOperationInFlight)
	})

	t.Run("partial update keeps earlier fields", func(t *testing.T) {
		err := reg.Update(ctx, "acme", registry.Patch{
			TenantName:  registry.String("Acme Corp"),
			Tier:        registry.String("private"),
			StackHandle: registry.String("arn:stack/abc"),
			StackName:   registry.String("tenant-prod-acme"),
		})
		require.NoError(t, err)

		err = reg.Update(ctx, "acme", registry.Patch{
			Status: registry.StatusPtr(registry.StatusCreateComplete),
		})
		require.NoError(t, err)

		rec, err := reg.Get(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, "Acme Corp", rec.TenantName)
		require.Equal(t, "private", rec.Tier)
		require.Equal(t, "arn:stack/abc", rec.StackHandle)
		require.Equal(t, registry.StatusCreateComplete, rec.Status)
	})

	t.Run("terminal status releases the operation guard", func(t *testing.T) {
		err := reg.BeginOperation(ctx, "acme", registry.StatusDeleteInProgress)
		require.NoError(t, err)

		err = reg.Update(ctx, "acme", registry.Patch{
			Status: registry.StatusPtr(registry.StatusDeleteComplete),
		})
		require.NoError(t, err)

		// The record survives deletion as an audit trail.
		rec, err := reg.Get(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, registry.StatusDeleteComplete, rec.Status)
	})

	t.Run("update missing record", func(t *testing.T) {
		err := reg.Update(ctx, "ghost", registry.Patch{
			Status: registry.StatusPtr(registry.StatusCreateFailed),
		})
		require.ErrorIs(t, err, registry.ErrRecordNotFound)
	})
}
