package history

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Query reads recorded history.
type Query struct {
	db      *store.DB
	store   *store.HistoryStore
	tenants *store.TenantStore
	log     logrus.FieldLogger
}

func NewQuery(db *store.DB, log logrus.FieldLogger) *Query {
	return &Query{
		db:      db,
		store:   store.NewHistoryStore(db.Dialect()),
		tenants: store.NewTenantStore(db.Dialect()),
		log:     log,
	}
}

// ListForAsset returns an asset's entries, newest first.
func (q *Query) ListForAsset(ctx context.Context, tenantID int64, ref models.AssetRef) ([]models.HistoryEntry, error) {
	return q.store.ListForAsset(ctx, q.db, tenantID, ref)
}

// ListForTenant returns one page of the tenant's entries matching f, newest first.
func (q *Query) ListForTenant(ctx context.Context, tenantID int64, f models.HistoryFilter, page models.Page) (*models.HistoryPage, error) {
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return nil, inverrors.Invalid("since", "must be before until")
	}
	if err := checkFilterField(f); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	entries, total, err := q.store.ListForTenant(ctx, q.db, tenantID, f, page)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return &models.HistoryPage{Entries: entries, Total: total, Page: page}, nil
}

// PurgeOlderThan removes the tenant's entries modified before cutoff. It is the
// only way history leaves the store short of deleting the tenant's data.
func (q *Query) PurgeOlderThan(ctx context.Context, tenantID int64, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, inverrors.Invalid("cutoff", "is required")
	}
	n, err := q.store.DeleteOlderThan(ctx, q.db, tenantID, cutoff)
	if err != nil {
		return 0, err
	}
	q.log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"cutoff":    cutoff.UTC().Format(time.RFC3339),
		"rows":      n,
	}).Info("history pruned")
	return n, nil
}

// PruneAll applies PurgeOlderThan to every tenant and returns the rows removed.
// It stops at the first failing tenant.
func (q *Query) PruneAll(ctx context.Context, cutoff time.Time) (int64, error) {
	tenants, err := q.tenants.List(ctx, q.db)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, t := range tenants {
		n, err := q.PurgeOlderThan(ctx, t.ID, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune tenant %d: %w", t.ID, err)
		}
		total += n
	}
	return total, nil
}

// checkFilterField rejects a field filter that no entry of the filtered kinds
// could ever match.
func checkFilterField(f models.HistoryFilter) error {
	if f.Field == "" {
		return nil
	}
	kinds := models.AssetKinds
	if f.AssetKind != "" {
		kinds = []models.AssetKind{f.AssetKind}
	}
	tracked := lo.Uniq(lo.FlatMap(kinds, func(k models.AssetKind, _ int) []models.HistoryField { return TrackedFields(k) }))
	if !lo.Contains(tracked, f.Field) {
		return inverrors.Invalid("field", fmt.Sprintf("%q is not a tracked field; expected one of %v", f.Field, tracked))
	}
	return nil
}

func normalizePage(p models.Page) models.Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
