package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
)

// CreateTenant registers a school.
func (s *Service) CreateTenant(ctx context.Context, name string) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, inverrors.Invalid("name", "name is required")
	}
	tenant, err := s.tenants.Create(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	s.log.WithField("tenant_id", tenant.ID).Info("tenant created")
	return tenant, nil
}

// CreateLocation adds a room or other install site to the tenant.
func (s *Service) CreateLocation(ctx context.Context, loc *models.Location) error {
	loc.Name = strings.TrimSpace(loc.Name)
	if loc.Name == "" {
		return inverrors.Invalid("name", "name is required")
	}
	return s.db.InTx(ctx, nil, func(tx *sqlx.Tx) error {
		if err := s.requireTenant(ctx, tx, loc.TenantID); err != nil {
			return err
		}
		if loc.GatewayDeviceID != nil {
			ref := models.AssetRef{Kind: models.KindDevice, ID: *loc.GatewayDeviceID}
			if _, err := s.assets.Get(ctx, tx, loc.TenantID, ref); errors.Is(err, store.ErrNotFound) {
				return inverrors.Invalid("gateway_device_id", "unknown device")
			} else if err != nil {
				return err
			}
		}
		if err := s.assets.CreateLocation(ctx, tx, loc); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"tenant_id": loc.TenantID, "location_id": loc.ID}).Debug("location created")
		return nil
	})
}

// CreateResponsiblePerson adds a staff member assets can be assigned to.
func (s *Service) CreateResponsiblePerson(ctx context.Context, p *models.ResponsiblePerson) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return inverrors.Invalid("name", "name is required")
	}
	return s.db.InTx(ctx, nil, func(tx *sqlx.Tx) error {
		if err := s.requireTenant(ctx, tx, p.TenantID); err != nil {
			return err
		}
		return s.assets.CreatePerson(ctx, tx, p)
	})
}

func (s *Service) requireTenant(ctx context.Context, tx *sqlx.Tx, tenantID int64) error {
	ok, err := s.tenants.Exists(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return inverrors.ErrTenantNotFound
	}
	return nil
}
