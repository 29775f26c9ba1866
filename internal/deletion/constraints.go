package deletion

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/store"
)

// withConstraintsSuspended defers foreign-key enforcement on q while fn runs
// and restores it on every exit path, panics included. A restore failure is
// returned only when fn itself succeeded.
func withConstraintsSuspended(ctx context.Context, q store.Querier, d store.Dialect, log logrus.FieldLogger, fn func() error) (err error) {
	if _, err := q.ExecContext(ctx, d.SuspendConstraints()); err != nil {
		return fmt.Errorf("suspend constraints: %w", d.Classify(err))
	}
	defer func() {
		_, restoreErr := q.ExecContext(ctx, d.RestoreConstraints())
		if restoreErr == nil {
			return
		}
		if err != nil {
			log.WithError(restoreErr).Warn("restore constraints after failed deletion")
			return
		}
		log.WithError(restoreErr).Error("restore constraints")
		err = fmt.Errorf("restore constraints: %w", d.Classify(restoreErr))
	}()
	return fn()
}
