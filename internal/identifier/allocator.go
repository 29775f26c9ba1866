// Package identifier allocates human-readable asset identifiers within
// per-tenant, per-category, per-year sequences.
//
// Allocation takes no locks. Concurrent allocations of the same key are
// resolved by the unique index on identifiers: the loser's insert fails with a
// transient conflict and its caller retries with a freshly computed number.
// Reusing an existing identifier claims it with a conditional update on its
// owner columns, so two assets can never both hold it.
package identifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/metrics"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
)

// Allocator computes sequence numbers and assigns identifiers.
type Allocator struct {
	ids     *store.IdentifierStore
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewAllocator(ids *store.IdentifierStore, log logrus.FieldLogger, m *metrics.Metrics) *Allocator {
	return &Allocator{ids: ids, log: log, metrics: m}
}

// NextSequence returns max(existing sequence)+1 for the exact tenant, kind,
// category and year, or 1 when none exist. Freed numbers are never reused.
func (a *Allocator) NextSequence(ctx context.Context, q store.Querier, tenantID int64, kind models.IdentifierKind, category, year string) (int, error) {
	highest, err := a.ids.MaxSequence(ctx, q, models.IdentifierKey{
		TenantID: tenantID, Kind: kind, Category: category, Year: year,
	})
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

// IsDuplicate reports whether an asset of the same tenant other than exclude
// already carries an identifier with key.
func (a *Allocator) IsDuplicate(ctx context.Context, q store.Querier, key models.IdentifierKey, exclude *models.AssetRef) (bool, error) {
	return a.ids.AssignedElsewhere(ctx, q, key, exclude)
}

// List returns the tenant's identifiers of one kind, orphaned ones included.
func (a *Allocator) List(ctx context.Context, q store.Querier, tenantID int64, kind models.IdentifierKind) ([]models.Identifier, error) {
	return a.ids.ListForTenant(ctx, q, tenantID, kind)
}

// AllocateExplicit returns the identifier with key, creating it on first use,
// and records owner as its holder. An existing identifier held by another
// asset fails with an error wrapping store.ErrUniqueViolation.
func (a *Allocator) AllocateExplicit(ctx context.Context, q store.Querier, key models.IdentifierKey, owner *models.AssetRef) (*models.Identifier, error) {
	ident, err := a.ids.Find(ctx, q, key)
	if err == nil {
		if owner == nil {
			return ident, nil
		}
		if err := a.ids.Claim(ctx, q, ident.ID, *owner); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				a.metrics.IdentifierConflict(string(key.Kind), "claimed")
				a.log.WithFields(logrus.Fields{
					"tenant_id":  key.TenantID,
					"identifier": key.Display(),
					"owner":      owner.String(),
				}).Warn("identifier held by another asset")
			}
			return nil, err
		}
		kind, id := string(owner.Kind), owner.ID
		ident.AssetKind, ident.AssetID = &kind, &id
		return ident, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	ident, err = a.ids.Insert(ctx, q, key, owner)
	if errors.Is(err, store.ErrUniqueViolation) {
		a.metrics.IdentifierConflict(string(key.Kind), "race")
		a.log.WithFields(logrus.Fields{
			"tenant_id":  key.TenantID,
			"identifier": key.Display(),
		}).Warn("identifier inserted concurrently")
	}
	return ident, err
}

// Release gives up owner's hold on identifier id. The identifier stays
// allocated and its number is not reissued.
func (a *Allocator) Release(ctx context.Context, q store.Querier, id int64, owner models.AssetRef) error {
	return a.ids.Release(ctx, q, id, owner)
}

// Assign resolves spec to an identifier for the asset owner. An explicit
// sequence is checked for duplicates against every other asset of the tenant;
// otherwise the next sequence is taken. Duplicates fail with a
// *inverrors.DuplicateIdentifierError.
func (a *Allocator) Assign(ctx context.Context, q store.Querier, tenantID int64, kind models.IdentifierKind, spec Spec, owner models.AssetRef) (*models.Identifier, error) {
	key := models.IdentifierKey{
		TenantID: tenantID,
		Kind:     kind,
		Category: spec.Category,
		Year:     spec.Year,
		Sequence: spec.Sequence,
	}
	mode := "explicit"
	if spec.Explicit() {
		dup, err := a.IsDuplicate(ctx, q, key, &owner)
		if err != nil {
			return nil, err
		}
		if dup {
			a.metrics.IdentifierConflict(string(kind), "duplicate")
			return nil, &inverrors.DuplicateIdentifierError{Kind: string(kind), Display: key.Display()}
		}
	} else {
		mode = "auto"
		next, err := a.NextSequence(ctx, q, tenantID, kind, spec.Category, spec.Year)
		if err != nil {
			return nil, err
		}
		key.Sequence = next
	}

	ident, err := a.AllocateExplicit(ctx, q, key, &owner)
	if err != nil {
		return nil, fmt.Errorf("allocate %s identifier: %w", kind, err)
	}
	a.metrics.IdentifierAllocated(string(kind), mode)
	a.log.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"asset_kind": owner.Kind,
		"asset_id":   owner.ID,
		"identifier": ident.Display(),
	}).Debug("identifier assigned")
	return ident, nil
}
