// Package deletion removes a tenant's inventory data, either entirely or for a
// chosen set of table groups.
//
// Each attempt runs in one transaction at the strongest isolation the store
// offers, with foreign keys suspended while rows are removed in dependency
// order. Transient conflicts retry the whole attempt with exponential backoff.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/metrics"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
)

// Options tune retrying. Zero values take the defaults.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialInterval is the first backoff delay; later delays grow from it.
	InitialInterval time.Duration
}

const (
	defaultMaxRetries      = 3
	defaultInitialInterval = 100 * time.Millisecond
)

// Orchestrator runs tenant deletions.
type Orchestrator struct {
	db      *store.DB
	dialect store.Dialect
	tenants *store.TenantStore
	steps   []step
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewOrchestrator(db *store.DB, log logrus.FieldLogger, m *metrics.Metrics, opts Options) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	tenants := store.NewTenantStore(db.Dialect())
	return &Orchestrator{
		db:         db,
		dialect:    db.Dialect(),
		tenants:    tenants,
		steps:      defaultSteps(tenants),
		log:        log,
		metrics:    m,
		maxRetries: uint64(opts.MaxRetries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = opts.InitialInterval
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// DeleteTenant removes every row the tenant owns in the inventory tables and
// verifies that none remain.
func (o *Orchestrator) DeleteTenant(ctx context.Context, tenantID int64) (*models.DeletionSummary, error) {
	return o.run(ctx, tenantID, AllGroups, false)
}

// DeleteTenantSelective removes the tenant's rows for the chosen groups only,
// in the same order and transaction discipline but without verification.
func (o *Orchestrator) DeleteTenantSelective(ctx context.Context, tenantID int64, groups []models.TableGroup) (*models.DeletionSummary, error) {
	ordered, err := ValidateSelection(groups)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, tenantID, ordered, true)
}

// Counts reports the tenant's current row count per table.
func (o *Orchestrator) Counts(ctx context.Context, tenantID int64) ([]models.TableCount, error) {
	ok, err := o.tenants.Exists(ctx, o.db, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, inverrors.ErrTenantNotFound
	}
	var out []models.TableCount
	for _, s := range o.steps {
		if s.scope == nil {
			continue
		}
		n, err := o.tenants.Count(ctx, o.db, tenantID, *s.scope)
		if err != nil {
			return nil, err
		}
		out = append(out, models.TableCount{Table: s.scope.Name(), Before: n})
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, tenantID int64, groups []models.TableGroup, selective bool) (*models.DeletionSummary, error) {
	mode := "full"
	if selective {
		mode = "selective"
	}
	log := o.log.WithFields(logrus.Fields{"tenant_id": tenantID, "mode": mode})

	var (
		summary  *models.DeletionSummary
		attempts int
	)
	op := func() error {
		attempts++
		s, err := o.attempt(ctx, log.WithField("attempt", attempts), tenantID, groups, selective)
		if err == nil {
			summary = s
			return nil
		}
		if inverrors.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		o.metrics.DeletionRetry()
		log.WithError(err).WithField("attempt", attempts).Warnf("transient conflict, retrying in %s", wait)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(o.newBackOff(), o.maxRetries), ctx)
	err := backoff.RetryNotify(op, b, notify)
	if err != nil {
		o.metrics.TenantDeletion(mode, outcome(err))
		if inverrors.IsTransient(err) {
			log.WithError(err).Errorf("giving up after %d attempts", attempts)
			return nil, inverrors.OperationFailed(attempts, err)
		}
		if errors.Is(err, inverrors.ErrIncompleteDeletion) {
			log.WithError(err).Error("tenant deletion incomplete")
		}
		return nil, err
	}

	summary.Attempts = attempts
	o.metrics.TenantDeletion(mode, "ok")
	for _, tc := range summary.Tables {
		o.metrics.DeletedRows(tc.Table, tc.Deleted)
	}
	log.WithFields(logrus.Fields{
		"rows":       summary.Total,
		"supporting": summary.Supporting,
		"attempts":   attempts,
	}).Info("tenant data deleted")
	return summary, nil
}

func (o *Orchestrator) attempt(ctx context.Context, log logrus.FieldLogger, tenantID int64, groups []models.TableGroup, selective bool) (*models.DeletionSummary, error) {
	summary := &models.DeletionSummary{TenantID: tenantID, Selective: selective}
	if selective {
		summary.Groups = groups
	}
	selected := make(map[models.TableGroup]bool, len(groups))
	for _, g := range groups {
		selected[g] = true
	}

	err := o.db.InTx(ctx, o.db.SerializableTx(), func(tx *sqlx.Tx) error {
		ok, err := o.tenants.Exists(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if !ok {
			return inverrors.ErrTenantNotFound
		}

		var plan []step
		for _, s := range o.steps {
			if !selected[s.group] {
				continue
			}
			plan = append(plan, s)
			if s.scope == nil {
				continue
			}
			n, err := o.tenants.Count(ctx, tx, tenantID, *s.scope)
			if err != nil {
				return err
			}
			summary.Tables = append(summary.Tables, models.TableCount{Table: s.scope.Name(), Before: n})
		}

		err = withConstraintsSuspended(ctx, tx, o.dialect, log, func() error {
			i := 0
			for _, s := range plan {
				n, err := s.run(ctx, tx, tenantID)
				if err != nil {
					return fmt.Errorf("delete step %s: %w", s.name(), err)
				}
				if s.scope == nil {
					log.WithFields(logrus.Fields{"step": s.name(), "rows": n}).Debug("rows updated")
					continue
				}
				summary.Tables[i].Deleted = n
				if s.supporting {
					summary.Supporting += n
				} else {
					summary.Total += n
				}
				log.WithFields(logrus.Fields{"table": s.scope.Name(), "rows": n}).Debug("rows deleted")
				i++
			}
			return nil
		})
		if err != nil {
			return err
		}

		if selective {
			return nil
		}
		return o.verify(ctx, tx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// verify re-counts every table and fails when any still holds tenant rows.
func (o *Orchestrator) verify(ctx context.Context, q store.Querier, tenantID int64) error {
	remaining := map[string]int64{}
	for _, s := range o.steps {
		if s.scope == nil {
			continue
		}
		n, err := o.tenants.Count(ctx, q, tenantID, *s.scope)
		if err != nil {
			return err
		}
		if n > 0 {
			remaining[s.scope.Name()] = n
		}
	}
	if len(remaining) > 0 {
		return &inverrors.IncompleteDeletionError{TenantID: tenantID, Remaining: remaining}
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, inverrors.ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, inverrors.ErrIncompleteDeletion):
		return "incomplete"
	case inverrors.IsTransient(err):
		return "retries_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
