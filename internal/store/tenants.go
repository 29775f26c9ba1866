package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"campus-inventory-api/internal/models"
)

// TenantStore manages tenant rows and tenant-scoped row counting.
type TenantStore struct {
	dialect Dialect
}

func NewTenantStore(d Dialect) *TenantStore { return &TenantStore{dialect: d} }

// Create stores a tenant.
func (s *TenantStore) Create(ctx context.Context, q Querier, name string) (*models.Tenant, error) {
	t := models.Tenant{Name: name, CreatedAt: now()}
	err := sqlx.GetContext(ctx, q, &t.ID, q.Rebind(`INSERT INTO tenants (name, created_at) VALUES (?, ?) RETURNING id`),
		t.Name, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", s.dialect.Classify(err))
	}
	return &t, nil
}

// Get loads a tenant.
func (s *TenantStore) Get(ctx context.Context, q Querier, id int64) (*models.Tenant, error) {
	var t models.Tenant
	err := sqlx.GetContext(ctx, q, &t, q.Rebind(`SELECT id, name, created_at FROM tenants WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %d: %w", id, s.dialect.Classify(err))
	}
	return &t, nil
}

// Exists reports whether the tenant row is present.
func (s *TenantStore) Exists(ctx context.Context, q Querier, id int64) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM tenants WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("check tenant %d: %w", id, s.dialect.Classify(err))
	}
	return n > 0, nil
}

// List returns every tenant ordered by id.
func (s *TenantStore) List(ctx context.Context, q Querier) ([]models.Tenant, error) {
	var out []models.Tenant
	if err := sqlx.SelectContext(ctx, q, &out, `SELECT id, name, created_at FROM tenants ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list tenants: %w", s.dialect.Classify(err))
	}
	return out, nil
}

// TableScope selects a tenant's rows in one table, optionally narrowed to rows
// whose Column equals Value.
type TableScope struct {
	Table  string
	Column string
	Value  string
}

// Name is the label used in summaries and errors, e.g. "identifiers[kind=tag]".
func (ts TableScope) Name() string {
	if ts.Column == "" {
		return ts.Table
	}
	return fmt.Sprintf("%s[%s=%s]", ts.Table, ts.Column, ts.Value)
}

var scopedTables = map[string]bool{
	"devices":             true,
	"access_points":       true,
	"locations":           true,
	"responsible_persons": true,
	"identifiers":         true,
	"asset_history":       true,
}

var scopedColumns = map[string]bool{
	"kind":       true,
	"asset_kind": true,
}

func (ts TableScope) where() (string, []any, error) {
	if !scopedTables[ts.Table] {
		return "", nil, fmt.Errorf("table %q is not tenant scoped", ts.Table)
	}
	if ts.Column == "" {
		return ts.Table + " WHERE tenant_id = ?", nil, nil
	}
	if !scopedColumns[ts.Column] {
		return "", nil, fmt.Errorf("column %q cannot narrow a scope", ts.Column)
	}
	return ts.Table + " WHERE tenant_id = ? AND " + ts.Column + " = ?", []any{ts.Value}, nil
}

// Count returns the number of rows in scope for the tenant.
func (s *TenantStore) Count(ctx context.Context, q Querier, tenantID int64, ts TableScope) (int64, error) {
	from, extra, err := ts.where()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM `+from), append([]any{tenantID}, extra...)...); err != nil {
		return 0, fmt.Errorf("count %s: %w", ts.Name(), s.dialect.Classify(err))
	}
	return n, nil
}

// Delete removes the tenant's rows in scope and returns how many went.
func (s *TenantStore) Delete(ctx context.Context, q Querier, tenantID int64, ts TableScope) (int64, error) {
	from, extra, err := ts.where()
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM `+from), append([]any{tenantID}, extra...)...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", ts.Name(), s.dialect.Classify(err))
	}
	return res.RowsAffected()
}

// DetachGateways clears the tenant's location -> device gateway references so
// devices can be removed before locations.
func (s *TenantStore) DetachGateways(ctx context.Context, q Querier, tenantID int64) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE locations SET gateway_device_id = NULL WHERE tenant_id = ? AND gateway_device_id IS NOT NULL`), tenantID)
	if err != nil {
		return 0, fmt.Errorf("detach gateways: %w", s.dialect.Classify(err))
	}
	return res.RowsAffected()
}

// ReleaseIdentifiers clears the owner of the tenant's identifiers held by
// assets of one kind, so a purge of those assets leaves the identifiers free
// to be claimed again.
func (s *TenantStore) ReleaseIdentifiers(ctx context.Context, q Querier, tenantID int64, kind models.AssetKind) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE identifiers SET asset_kind = NULL, asset_id = NULL
		WHERE tenant_id = ? AND asset_kind = ?`), tenantID, kind)
	if err != nil {
		return 0, fmt.Errorf("release %s identifiers: %w", kind, s.dialect.Classify(err))
	}
	return res.RowsAffected()
}

// DetachGateway clears the gateway reference of every location using the
// device as its gateway.
func (s *TenantStore) DetachGateway(ctx context.Context, q Querier, tenantID, deviceID int64) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE locations SET gateway_device_id = NULL WHERE tenant_id = ? AND gateway_device_id = ?`),
		tenantID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("detach gateway %d: %w", deviceID, s.dialect.Classify(err))
	}
	return res.RowsAffected()
}
