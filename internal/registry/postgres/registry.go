package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/registry"
)

// Registry is a PostgreSQL implementation of registry.Registry. It is the
// alternative control-plane backend for deployments that keep their registry
// out of DynamoDB.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry creates a new PostgreSQL registry, optionally running schema
// migrations first.
func NewRegistry(ctx context.Context, cfg *PoolConfig) (*Registry, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Registry{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close() {
	r.pool.Close()
}

// Get retrieves the infrastructure record for a tenant
func (r *Registry) Get(ctx context.Context, tenantID string) (*registry.Record, error) {
	var record registry.Record
	var stackHandle *string

	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, tenant_name, tier, stack_handle, stack_name, status, detail, last_modified
		FROM tenant_infrastructure
		WHERE tenant_id = $1`, tenantID).Scan(
		&record.TenantID,
		&record.TenantName,
		&record.Tier,
		&stackHandle,
		&record.StackName,
		&record.Status,
		&record.Detail,
		&record.LastModified,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrRecordNotFound
		}
		return nil, mapPostgresError(err)
	}

	if stackHandle != nil {
		record.StackHandle = *stackHandle
	}

	return &record, nil
}

// BeginOperation marks the tenant record as in-progress for a new operation.
// The conditional upsert refuses to overwrite another in-flight operation.
func (r *Registry) BeginOperation(ctx context.Context, tenantID string, status registry.Status) error {
	if !status.InProgress() {
		return fmt.Errorf("begin operation requires an in-progress status, got %s", status)
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_infrastructure (tenant_id, status, last_modified)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET status = EXCLUDED.status, last_modified = now()
		WHERE tenant_infrastructure.status NOT IN ('CREATE_IN_PROGRESS', 'DELETE_IN_PROGRESS')`,
		tenantID, string(status))
	if err != nil {
		return mapPostgresError(err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", registry.ErrOperationInFlight, tenantID)
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("status", string(status)).
		Msg("operation started")

	return nil
}

// Update applies a partial update to the tenant record, stamping
// last_modified. Columns absent from the patch keep their values.
func (r *Registry) Update(ctx context.Context, tenantID string, patch registry.Patch) error {
	sets := []string{"last_modified = now()"}
	args := []any{tenantID}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.TenantName != nil {
		appendSet("tenant_name", *patch.TenantName)
	}
	if patch.Tier != nil {
		appendSet("tier", *patch.Tier)
	}
	if patch.StackHandle != nil {
		appendSet("stack_handle", *patch.StackHandle)
	}
	if patch.StackName != nil {
		appendSet("stack_name", *patch.StackName)
	}
	if patch.Status != nil {
		appendSet("status", string(*patch.Status))
	}
	if patch.Detail != nil {
		appendSet("detail", *patch.Detail)
	}

	query := fmt.Sprintf(`UPDATE tenant_infrastructure SET %s WHERE tenant_id = $1`,
		strings.Join(sets, ", "))

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapPostgresError(err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", registry.ErrRecordNotFound, tenantID)
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Msg("infrastructure record updated")

	return nil
}
