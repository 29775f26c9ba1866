package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"campus-inventory-api/internal/models"
)

// identifierColumns always reads year through COALESCE so absent years scan
// into the empty string.
const identifierColumns = `id, tenant_id, kind, category, COALESCE(year, '') AS year, sequence, asset_kind, asset_id, created_at`

// IdentifierStore is the persisted table of allocated identifiers.
type IdentifierStore struct {
	dialect Dialect
}

func NewIdentifierStore(d Dialect) *IdentifierStore { return &IdentifierStore{dialect: d} }

// MaxSequence returns the highest sequence stored for the key's tenant, kind,
// category and year, or 0 when there is none. The key's Sequence is ignored.
func (s *IdentifierStore) MaxSequence(ctx context.Context, q Querier, key models.IdentifierKey) (int, error) {
	var highest int
	err := sqlx.GetContext(ctx, q, &highest, q.Rebind(`
		SELECT COALESCE(MAX(sequence), 0) FROM identifiers
		WHERE tenant_id = ? AND kind = ? AND category = ? AND COALESCE(year, '') = ?`),
		key.TenantID, key.Kind, key.Category, key.Year)
	if err != nil {
		return 0, fmt.Errorf("max sequence %s: %w", key.Display(), s.dialect.Classify(err))
	}
	return highest, nil
}

// Find looks an identifier up by its full key.
func (s *IdentifierStore) Find(ctx context.Context, q Querier, key models.IdentifierKey) (*models.Identifier, error) {
	var ident models.Identifier
	err := sqlx.GetContext(ctx, q, &ident, q.Rebind(`
		SELECT `+identifierColumns+` FROM identifiers
		WHERE tenant_id = ? AND kind = ? AND category = ? AND COALESCE(year, '') = ? AND sequence = ?`),
		key.TenantID, key.Kind, key.Category, key.Year, key.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find identifier %s: %w", key.Display(), s.dialect.Classify(err))
	}
	return &ident, nil
}

// Get loads an identifier by id.
func (s *IdentifierStore) Get(ctx context.Context, q Querier, id int64) (*models.Identifier, error) {
	var ident models.Identifier
	err := sqlx.GetContext(ctx, q, &ident, q.Rebind(`SELECT `+identifierColumns+` FROM identifiers WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identifier %d: %w", id, s.dialect.Classify(err))
	}
	return &ident, nil
}

// Insert stores a new identifier. owner, when set, records the asset the
// identifier was allocated for. A concurrent insert of the same key fails with
// an error wrapping ErrUniqueViolation.
func (s *IdentifierStore) Insert(ctx context.Context, q Querier, key models.IdentifierKey, owner *models.AssetRef) (*models.Identifier, error) {
	ident := models.Identifier{
		IdentifierKey: key,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
	if owner != nil {
		kind := string(owner.Kind)
		id := owner.ID
		ident.AssetKind = &kind
		ident.AssetID = &id
	}
	var year any
	if key.Year != "" {
		year = key.Year
	}
	err := sqlx.GetContext(ctx, q, &ident.ID, q.Rebind(`
		INSERT INTO identifiers (tenant_id, kind, category, year, sequence, asset_kind, asset_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		key.TenantID, key.Kind, key.Category, year, key.Sequence, ident.AssetKind, ident.AssetID, ident.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert identifier %s: %w", key.Display(), s.dialect.Classify(err))
	}
	return &ident, nil
}

// AssignedElsewhere reports whether an asset of the key's tenant other than
// exclude references an identifier with the key through the column matching
// the key's kind.
func (s *IdentifierStore) AssignedElsewhere(ctx context.Context, q Querier, key models.IdentifierKey, exclude *models.AssetRef) (bool, error) {
	column := "tag_id"
	if key.Kind == models.IdentifierManagement {
		column = "mgmt_tag_id"
	}
	for _, kind := range models.AssetKinds {
		query := fmt.Sprintf(`
			SELECT COUNT(*) FROM %s a
			JOIN identifiers i ON i.id = a.%s
			WHERE a.tenant_id = ? AND i.tenant_id = ? AND i.kind = ? AND i.category = ?
			  AND COALESCE(i.year, '') = ? AND i.sequence = ?`, AssetTable(kind), column)
		args := []any{key.TenantID, key.TenantID, key.Kind, key.Category, key.Year, key.Sequence}
		if exclude != nil && exclude.Kind == kind {
			query += ` AND a.id <> ?`
			args = append(args, exclude.ID)
		}
		var n int64
		if err := sqlx.GetContext(ctx, q, &n, q.Rebind(query), args...); err != nil {
			return false, fmt.Errorf("check identifier %s: %w", key.Display(), s.dialect.Classify(err))
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ListForTenant returns a tenant's identifiers of one kind ordered by key.
func (s *IdentifierStore) ListForTenant(ctx context.Context, q Querier, tenantID int64, kind models.IdentifierKind) ([]models.Identifier, error) {
	var out []models.Identifier
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT `+identifierColumns+` FROM identifiers
		WHERE tenant_id = ? AND kind = ?
		ORDER BY category, COALESCE(year, ''), sequence`), tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("list identifiers: %w", s.dialect.Classify(err))
	}
	return out, nil
}

// Claim records owner as the asset holding the identifier. It succeeds only
// while the identifier is unowned or already owned by owner; otherwise the
// error wraps ErrUniqueViolation. The check and the write are one statement,
// so a concurrent claimer blocks on the row and then sees the winner's owner.
func (s *IdentifierStore) Claim(ctx context.Context, q Querier, id int64, owner models.AssetRef) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE identifiers SET asset_kind = ?, asset_id = ?
		WHERE id = ? AND (asset_id IS NULL OR (asset_kind = ? AND asset_id = ?))`),
		owner.Kind, owner.ID, id, owner.Kind, owner.ID)
	if err != nil {
		return fmt.Errorf("claim identifier %d: %w", id, s.dialect.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim identifier %d: %w", id, s.dialect.Classify(err))
	}
	if n == 0 {
		return fmt.Errorf("claim identifier %d for %s: %w", id, owner, ErrUniqueViolation)
	}
	return nil
}

// Release clears the owner of identifier id if owner still holds it. The row
// stays so its number is never handed out again.
func (s *IdentifierStore) Release(ctx context.Context, q Querier, id int64, owner models.AssetRef) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE identifiers SET asset_kind = NULL, asset_id = NULL
		WHERE id = ? AND asset_kind = ? AND asset_id = ?`), id, owner.Kind, owner.ID)
	if err != nil {
		return fmt.Errorf("release identifier %d: %w", id, s.dialect.Classify(err))
	}
	return nil
}

// ReleaseOwned clears the owner of every identifier the asset holds and
// returns how many were released.
func (s *IdentifierStore) ReleaseOwned(ctx context.Context, q Querier, tenantID int64, owner models.AssetRef) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE identifiers SET asset_kind = NULL, asset_id = NULL
		WHERE tenant_id = ? AND asset_kind = ? AND asset_id = ?`), tenantID, owner.Kind, owner.ID)
	if err != nil {
		return 0, fmt.Errorf("release identifiers of %s: %w", owner, s.dialect.Classify(err))
	}
	return res.RowsAffected()
}
