// Package service is the entry point controllers and importers use to
// register and edit assets. Each call is one transaction: identifier
// allocation, the asset write and history recording commit or roll back
// together.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/history"
	"campus-inventory-api/internal/identifier"
	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/metrics"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
)

// maxAttempts bounds create and update: a lost identifier race is retried
// once with a freshly computed sequence.
const maxAttempts = 2

// CreateInput registers a new asset. A nil Tag derives the category from the
// asset type and takes the next number; a nil ManagementTag assigns none.
type CreateInput struct {
	TenantID      int64
	Kind          models.AssetKind
	Fields        models.AssetFields
	Tag           *identifier.Request
	ManagementTag *identifier.Request
}

// UpdateInput replaces an asset's fields. A nil identifier request keeps the
// current identifier of that kind.
type UpdateInput struct {
	TenantID      int64
	Ref           models.AssetRef
	Fields        models.AssetFields
	Tag           *identifier.Request
	ManagementTag *identifier.Request
	ActorID       int64
}

// Service composes the allocator, asset store and history recorder.
type Service struct {
	db          *store.DB
	assets      *store.AssetStore
	tenants     *store.TenantStore
	identifiers *store.IdentifierStore
	allocator   *identifier.Allocator
	recorder    *history.Recorder
	log         logrus.FieldLogger
}

func New(db *store.DB, log logrus.FieldLogger, m *metrics.Metrics) *Service {
	d := db.Dialect()
	ids := store.NewIdentifierStore(d)
	return &Service{
		db:          db,
		assets:      store.NewAssetStore(d),
		tenants:     store.NewTenantStore(d),
		identifiers: ids,
		allocator:   identifier.NewAllocator(ids, log, m),
		recorder:    history.NewRecorder(store.NewHistoryStore(d), log, m),
		log:         log,
	}
}

// CreateAsset validates the input, inserts the asset and assigns its
// identifiers.
func (s *Service) CreateAsset(ctx context.Context, in CreateInput) (*models.AssetSnapshot, error) {
	tag, mgmt, err := prepareCreate(in)
	if err != nil {
		return nil, err
	}

	var snap *models.AssetSnapshot
	err = s.retry(ctx, func(tx *sqlx.Tx) error {
		ok, err := s.tenants.Exists(ctx, tx, in.TenantID)
		if err != nil {
			return err
		}
		if !ok {
			return inverrors.ErrTenantNotFound
		}
		if err := s.checkReferences(ctx, tx, in.TenantID, in.Fields); err != nil {
			return err
		}

		asset, err := s.assets.Insert(ctx, tx, in.TenantID, in.Kind, in.Fields)
		if err != nil {
			return err
		}
		ident, err := s.allocator.Assign(ctx, tx, in.TenantID, models.IdentifierTag, tag, asset.Ref())
		if err != nil {
			return err
		}
		asset.TagID = &ident.ID
		if mgmt != nil {
			mident, err := s.allocator.Assign(ctx, tx, in.TenantID, models.IdentifierManagement, *mgmt, asset.Ref())
			if err != nil {
				return err
			}
			asset.MgmtTagID = &mident.ID
		}
		if err := s.assets.SetIdentifiers(ctx, tx, asset.Ref(), asset.TagID, asset.MgmtTagID); err != nil {
			return err
		}
		snap, err = s.assets.Resolve(ctx, tx, asset)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":  in.TenantID,
		"asset_kind": snap.Kind,
		"asset_id":   snap.ID,
		"identifier": *snap.TagDisplay(),
	}).Info("asset created")
	return snap, nil
}

// ValidateCreate runs the checks CreateAsset performs before touching the
// store. Importers use it for dry runs.
func (s *Service) ValidateCreate(in CreateInput) error {
	_, _, err := prepareCreate(in)
	return err
}

// UpdateAsset replaces the asset's fields, reassigns identifiers when asked and
// records one history entry per changed field, attributed to in.ActorID.
func (s *Service) UpdateAsset(ctx context.Context, in UpdateInput) (*models.AssetSnapshot, error) {
	if err := validateFields(in.Ref.Kind, in.Fields); err != nil {
		return nil, err
	}
	mgmt, err := parseOptional("management_tag", in.ManagementTag)
	if err != nil {
		return nil, err
	}
	// A tag request naming neither its own category nor a management tag is
	// checked here against the type's default category. Inside the
	// transaction the stored management category may select a more specific
	// one; every type with such an entry also has a default.
	var (
		tagSpec    *identifier.Spec
		deriveInTx bool
	)
	if in.Tag != nil {
		spec, err := parseTag(*in.Tag, in.Fields.Type, mgmt)
		if err != nil {
			return nil, err
		}
		tagSpec = &spec
		deriveInTx = strings.TrimSpace(in.Tag.Category) == "" && mgmt == nil
	}

	var (
		next    *models.AssetSnapshot
		entries []models.HistoryEntry
	)
	err = s.retry(ctx, func(tx *sqlx.Tx) error {
		prev, err := s.assets.Snapshot(ctx, tx, in.TenantID, in.Ref)
		if errors.Is(err, store.ErrNotFound) {
			return inverrors.ErrAssetNotFound
		}
		if err != nil {
			return err
		}
		if err := s.checkReferences(ctx, tx, in.TenantID, in.Fields); err != nil {
			return err
		}

		updated := prev.Asset
		updated.AssetFields = in.Fields

		if mgmt != nil {
			id, err := s.reassign(ctx, tx, prev, models.IdentifierManagement, prev.ManagementTag, *mgmt)
			if err != nil {
				return err
			}
			updated.MgmtTagID = &id
		}
		if tagSpec != nil {
			spec := *tagSpec
			if deriveInTx && prev.ManagementTag != nil {
				if c, ok := identifier.DeriveCategory(in.Fields.Type, prev.ManagementTag.Category); ok {
					spec.Category = c
				}
			}
			id, err := s.reassign(ctx, tx, prev, models.IdentifierTag, prev.Tag, spec)
			if err != nil {
				return err
			}
			updated.TagID = &id
		}

		if next, err = s.assets.Resolve(ctx, tx, &updated); err != nil {
			return err
		}
		if err := s.assets.Update(ctx, tx, &next.Asset); err != nil {
			return err
		}
		entries, err = s.recorder.Record(ctx, tx, prev, next, in.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":  in.TenantID,
		"asset_kind": in.Ref.Kind,
		"asset_id":   in.Ref.ID,
		"rows":       len(entries),
	}).Info("asset updated")
	return next, nil
}

// reassign returns the identifier id the asset should carry for spec. The
// current identifier is kept when the request repeats its category and year
// without naming a sequence. A replaced identifier is released, not deleted.
func (s *Service) reassign(ctx context.Context, tx *sqlx.Tx, prev *models.AssetSnapshot, kind models.IdentifierKind, current *models.Identifier, spec identifier.Spec) (int64, error) {
	if current != nil && !spec.Explicit() && current.Category == spec.Category && current.Year == spec.Year {
		return current.ID, nil
	}
	ident, err := s.allocator.Assign(ctx, tx, prev.TenantID, kind, spec, prev.Ref())
	if err != nil {
		return 0, err
	}
	if current != nil && current.ID != ident.ID {
		if err := s.allocator.Release(ctx, tx, current.ID, prev.Ref()); err != nil {
			return 0, err
		}
	}
	return ident.ID, nil
}

// DeleteAsset removes one asset. Locations using a deleted device as their
// gateway are detached. The asset's identifiers are released but kept, so
// their numbers are never reissued; its history stays until pruned or purged
// with the tenant.
func (s *Service) DeleteAsset(ctx context.Context, tenantID int64, ref models.AssetRef, actorID int64) error {
	if !lo.Contains(models.AssetKinds, ref.Kind) {
		return inverrors.Invalid("kind", fmt.Sprintf("unknown asset kind %q", ref.Kind))
	}
	var detached, released int64
	err := s.retry(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.assets.Get(ctx, tx, tenantID, ref); errors.Is(err, store.ErrNotFound) {
			return inverrors.ErrAssetNotFound
		} else if err != nil {
			return err
		}
		var err error
		if ref.Kind == models.KindDevice {
			if detached, err = s.tenants.DetachGateway(ctx, tx, tenantID, ref.ID); err != nil {
				return err
			}
		}
		if released, err = s.identifiers.ReleaseOwned(ctx, tx, tenantID, ref); err != nil {
			return err
		}
		return s.assets.Delete(ctx, tx, tenantID, ref)
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":            tenantID,
		"asset_kind":           ref.Kind,
		"asset_id":             ref.ID,
		"actor_id":             actorID,
		"gateways_detached":    detached,
		"identifiers_released": released,
	}).Info("asset deleted")
	return nil
}

// GetAsset returns the asset with its resolved references.
func (s *Service) GetAsset(ctx context.Context, tenantID int64, ref models.AssetRef) (*models.AssetSnapshot, error) {
	snap, err := s.assets.Snapshot(ctx, s.db, tenantID, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, inverrors.ErrAssetNotFound
	}
	return snap, err
}

// ListAssets returns one page of the tenant's assets of a kind.
func (s *Service) ListAssets(ctx context.Context, tenantID int64, kind models.AssetKind, page models.Page) ([]models.Asset, int, error) {
	return s.assets.List(ctx, s.db, tenantID, kind, page)
}

// NextSequence previews the number the next auto-numbered identifier would get.
func (s *Service) NextSequence(ctx context.Context, tenantID int64, kind models.IdentifierKind, category, year string) (int, error) {
	spec, err := identifier.Parse(string(kind), identifier.Request{Category: category, Year: year})
	if err != nil {
		return 0, err
	}
	return s.allocator.NextSequence(ctx, s.db, tenantID, kind, spec.Category, spec.Year)
}

// ListIdentifiers returns every identifier of one kind the tenant has
// allocated, including superseded ones.
func (s *Service) ListIdentifiers(ctx context.Context, tenantID int64, kind models.IdentifierKind) ([]models.Identifier, error) {
	ids, err := s.allocator.List(ctx, s.db, tenantID, kind)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []models.Identifier{}
	}
	return ids, nil
}

// retry runs fn in a transaction, once more if the first attempt lost a
// write race.
func (s *Service) retry(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.db.InTx(ctx, nil, fn)
		if err == nil || !inverrors.IsTransient(err) {
			return err
		}
		s.log.WithError(err).WithField("attempt", attempt).Warn("write conflict")
	}
	return inverrors.OperationFailed(maxAttempts, err)
}

func (s *Service) checkReferences(ctx context.Context, q store.Querier, tenantID int64, f models.AssetFields) error {
	if f.LocationID != nil {
		if _, err := s.assets.LocationName(ctx, q, tenantID, *f.LocationID); errors.Is(err, store.ErrNotFound) {
			return inverrors.Invalid("location_id", fmt.Sprintf("unknown location %d", *f.LocationID))
		} else if err != nil {
			return err
		}
	}
	if f.ResponsiblePersonID != nil {
		if _, err := s.assets.PersonName(ctx, q, tenantID, *f.ResponsiblePersonID); errors.Is(err, store.ErrNotFound) {
			return inverrors.Invalid("responsible_person_id", fmt.Sprintf("unknown responsible person %d", *f.ResponsiblePersonID))
		} else if err != nil {
			return err
		}
	}
	return nil
}
