package models

import (
	"fmt"
	"time"
)

// IdentifierKind selects one of the two independent numbering domains.
type IdentifierKind string

const (
	// IdentifierTag is the general-purpose asset tag printed on labels.
	IdentifierTag IdentifierKind = "tag"
	// IdentifierManagement is the per-category management tag.
	IdentifierManagement IdentifierKind = "management"
)

// IdentifierKey is the uniqueness key of an identifier within its kind.
// An empty Year means the year token is absent.
type IdentifierKey struct {
	TenantID int64          `json:"tenant_id" db:"tenant_id"`
	Kind     IdentifierKind `json:"kind" db:"kind"`
	Category string         `json:"category" db:"category"`
	Year     string         `json:"year,omitempty" db:"year"`
	Sequence int            `json:"sequence" db:"sequence"`
}

// Display composes the printable form: CATEGORY-YY-NNNN, or CATEGORY-NNNN
// when the year is absent.
func (k IdentifierKey) Display() string {
	if k.Year == "" {
		return fmt.Sprintf("%s-%04d", k.Category, k.Sequence)
	}
	return fmt.Sprintf("%s-%s-%04d", k.Category, k.Year, k.Sequence)
}

// Identifier is a persisted identifier row. Its key never changes; AssetKind
// and AssetID name the asset currently holding it and are nil once released.
type Identifier struct {
	ID int64 `json:"id" db:"id"`
	IdentifierKey
	AssetKind *string   `json:"asset_kind,omitempty" db:"asset_kind"`
	AssetID   *int64    `json:"asset_id,omitempty" db:"asset_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayPtr returns the composed display string, or nil for a nil identifier.
func (i *Identifier) DisplayPtr() *string {
	if i == nil {
		return nil
	}
	s := i.Display()
	return &s
}
