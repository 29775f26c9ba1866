package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"campus-inventory-api/internal/models"
)

const historyColumns = `id, tenant_id, asset_kind, asset_id, field_name, before_value, after_value, actor_id, modified_at`

// HistoryStore is the append-only table of asset change entries. It has no
// update path; rows leave only through DeleteOlderThan or tenant deletion.
type HistoryStore struct {
	dialect Dialect
}

func NewHistoryStore(d Dialect) *HistoryStore { return &HistoryStore{dialect: d} }

// Insert appends one entry and fills in its id.
func (s *HistoryStore) Insert(ctx context.Context, q Querier, e *models.HistoryEntry) error {
	if e.ModifiedAt.IsZero() {
		e.ModifiedAt = now()
	} else {
		e.ModifiedAt = e.ModifiedAt.UTC().Truncate(time.Microsecond)
	}
	err := sqlx.GetContext(ctx, q, &e.ID, q.Rebind(`
		INSERT INTO asset_history (tenant_id, asset_kind, asset_id, field_name, before_value, after_value, actor_id, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		e.TenantID, e.AssetKind, e.AssetID, e.Field, e.Before, e.After, e.ActorID, e.ModifiedAt)
	if err != nil {
		return fmt.Errorf("insert history %s on %s/%d: %w", e.Field, e.AssetKind, e.AssetID, s.dialect.Classify(err))
	}
	return nil
}

// ListForAsset returns every entry of one asset, newest first.
func (s *HistoryStore) ListForAsset(ctx context.Context, q Querier, tenantID int64, ref models.AssetRef) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT `+historyColumns+` FROM asset_history
		WHERE tenant_id = ? AND asset_kind = ? AND asset_id = ?
		ORDER BY modified_at DESC, id DESC`), tenantID, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("list history of %s: %w", ref, s.dialect.Classify(err))
	}
	return out, nil
}

// ListForTenant returns one page of a tenant's entries matching the filter,
// newest first, and the number of matching entries.
func (s *HistoryStore) ListForTenant(ctx context.Context, q Querier, tenantID int64, f models.HistoryFilter, page models.Page) ([]models.HistoryEntry, int, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	if f.AssetKind != "" {
		where = append(where, "asset_kind = ?")
		args = append(args, f.AssetKind)
	}
	if f.Field != "" {
		where = append(where, "field_name = ?")
		args = append(args, f.Field)
	}
	if f.ActorID != 0 {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if !f.Since.IsZero() {
		where = append(where, "modified_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where = append(where, "modified_at < ?")
		args = append(args, f.Until.UTC())
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, q, &total, q.Rebind(`SELECT COUNT(*) FROM asset_history WHERE `+clause), args...); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", s.dialect.Classify(err))
	}
	var out []models.HistoryEntry
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT `+historyColumns+` FROM asset_history WHERE `+clause+`
		ORDER BY modified_at DESC, id DESC LIMIT ? OFFSET ?`), append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", s.dialect.Classify(err))
	}
	return out, total, nil
}

// DeleteOlderThan removes a tenant's entries modified before cutoff.
func (s *HistoryStore) DeleteOlderThan(ctx context.Context, q Querier, tenantID int64, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM asset_history WHERE tenant_id = ? AND modified_at < ?`),
		tenantID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", s.dialect.Classify(err))
	}
	return res.RowsAffected()
}
