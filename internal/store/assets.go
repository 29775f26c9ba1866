package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"campus-inventory-api/internal/models"
)

// AssetTable returns the table holding assets of the given kind.
func AssetTable(kind models.AssetKind) string {
	if kind == models.KindAccessPoint {
		return "access_points"
	}
	return "devices"
}

var commonFieldColumns = []string{
	"type", "manufacturer", "model", "serial_number",
	"ip_address", "mac_address", "status", "purchased_on", "install_position", "note",
	"location_id", "responsible_person_id",
}

// fieldColumns lists the editable columns stored for a kind.
func fieldColumns(kind models.AssetKind) []string {
	cols := append([]string{}, commonFieldColumns...)
	if kind == models.KindAccessPoint {
		return append(cols, "ssid", "firmware")
	}
	return append(cols, "hostname", "os")
}

func fieldValues(kind models.AssetKind, f models.AssetFields) []any {
	vals := []any{
		f.Type, f.Manufacturer, f.Model, f.SerialNumber,
		f.IPAddress, f.MACAddress, f.Status, f.PurchasedOn, f.InstallPosition, f.Note,
		f.LocationID, f.ResponsiblePersonID,
	}
	if kind == models.KindAccessPoint {
		return append(vals, f.SSID, f.Firmware)
	}
	return append(vals, f.Hostname, f.OS)
}

func selectAssetColumns(kind models.AssetKind) string {
	cols := append([]string{"id", "tenant_id"}, fieldColumns(kind)...)
	cols = append(cols, "tag_id", "mgmt_tag_id", "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// AssetStore reads and writes the device and access point tables together with
// the locations and responsible persons they reference.
type AssetStore struct {
	dialect     Dialect
	identifiers *IdentifierStore
}

func NewAssetStore(d Dialect) *AssetStore {
	return &AssetStore{dialect: d, identifiers: NewIdentifierStore(d)}
}

// Get loads one asset of the tenant.
func (s *AssetStore) Get(ctx context.Context, q Querier, tenantID int64, ref models.AssetRef) (*models.Asset, error) {
	var a models.Asset
	err := sqlx.GetContext(ctx, q, &a, q.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = ? AND tenant_id = ?`, selectAssetColumns(ref.Kind), AssetTable(ref.Kind))),
		ref.ID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, s.dialect.Classify(err))
	}
	a.Kind = ref.Kind
	return &a, nil
}

// List returns one page of a tenant's assets of a kind, oldest first, and the
// total number of such assets.
func (s *AssetStore) List(ctx context.Context, q Querier, tenantID int64, kind models.AssetKind, page models.Page) ([]models.Asset, int, error) {
	table := AssetTable(kind)
	var total int
	if err := sqlx.GetContext(ctx, q, &total, q.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE tenant_id = ?`), tenantID); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", table, s.dialect.Classify(err))
	}
	var out []models.Asset
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE tenant_id = ? ORDER BY id LIMIT ? OFFSET ?`, selectAssetColumns(kind), table)),
		tenantID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", table, s.dialect.Classify(err))
	}
	for i := range out {
		out[i].Kind = kind
	}
	return out, total, nil
}

// Insert stores a new asset without identifiers.
func (s *AssetStore) Insert(ctx context.Context, q Querier, tenantID int64, kind models.AssetKind, fields models.AssetFields) (*models.Asset, error) {
	ts := now()
	cols := append([]string{"tenant_id"}, fieldColumns(kind)...)
	cols = append(cols, "created_at", "updated_at")
	args := append([]any{tenantID}, fieldValues(kind, fields)...)
	args = append(args, ts, ts)

	a := models.Asset{Kind: kind, TenantID: tenantID, AssetFields: fields, CreatedAt: ts, UpdatedAt: ts}
	err := sqlx.GetContext(ctx, q, &a.ID, q.Rebind(fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) RETURNING id`, AssetTable(kind), strings.Join(cols, ", "), placeholders(len(cols)))),
		args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", kind, s.dialect.Classify(err))
	}
	return &a, nil
}

// Update writes the asset's editable fields and identifier references.
func (s *AssetStore) Update(ctx context.Context, q Querier, a *models.Asset) error {
	cols := fieldColumns(a.Kind)
	sets := make([]string, 0, len(cols)+3)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "tag_id = ?", "mgmt_tag_id = ?", "updated_at = ?")
	a.UpdatedAt = now()
	args := append(fieldValues(a.Kind, a.AssetFields), a.TagID, a.MgmtTagID, a.UpdatedAt, a.ID, a.TenantID)

	res, err := q.ExecContext(ctx, q.Rebind(fmt.Sprintf(
		`UPDATE %s SET %s WHERE id = ? AND tenant_id = ?`, AssetTable(a.Kind), strings.Join(sets, ", "))), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", a.Ref(), s.dialect.Classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIdentifiers points the asset at its identifier rows.
func (s *AssetStore) SetIdentifiers(ctx context.Context, q Querier, ref models.AssetRef, tagID, mgmtTagID *int64) error {
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE `+AssetTable(ref.Kind)+` SET tag_id = ?, mgmt_tag_id = ? WHERE id = ?`),
		tagID, mgmtTagID, ref.ID)
	if err != nil {
		return fmt.Errorf("set identifiers on %s: %w", ref, s.dialect.Classify(err))
	}
	return nil
}

// Delete removes one asset row of the tenant.
func (s *AssetStore) Delete(ctx context.Context, q Querier, tenantID int64, ref models.AssetRef) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM `+AssetTable(ref.Kind)+` WHERE id = ? AND tenant_id = ?`), ref.ID, tenantID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, s.dialect.Classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Snapshot loads the asset together with the display values of everything it
// references.
func (s *AssetStore) Snapshot(ctx context.Context, q Querier, tenantID int64, ref models.AssetRef) (*models.AssetSnapshot, error) {
	a, err := s.Get(ctx, q, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, q, a)
}

// Resolve builds a snapshot of an asset that is not necessarily persisted yet.
// Dangling location or person references resolve to ErrNotFound.
func (s *AssetStore) Resolve(ctx context.Context, q Querier, a *models.Asset) (*models.AssetSnapshot, error) {
	snap := &models.AssetSnapshot{Asset: *a}
	var err error
	if a.LocationID != nil {
		if snap.LocationName, err = s.LocationName(ctx, q, a.TenantID, *a.LocationID); err != nil {
			return nil, fmt.Errorf("location %d: %w", *a.LocationID, err)
		}
	}
	if a.ResponsiblePersonID != nil {
		if snap.ResponsiblePersonName, err = s.PersonName(ctx, q, a.TenantID, *a.ResponsiblePersonID); err != nil {
			return nil, fmt.Errorf("responsible person %d: %w", *a.ResponsiblePersonID, err)
		}
	}
	if a.TagID != nil {
		if snap.Tag, err = s.identifiers.Get(ctx, q, *a.TagID); err != nil {
			return nil, err
		}
	}
	if a.MgmtTagID != nil {
		if snap.ManagementTag, err = s.identifiers.Get(ctx, q, *a.MgmtTagID); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *AssetStore) lookupName(ctx context.Context, q Querier, table string, tenantID, id int64) (*string, error) {
	var name string
	err := sqlx.GetContext(ctx, q, &name, q.Rebind(`SELECT name FROM `+table+` WHERE id = ? AND tenant_id = ?`), id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %d: %w", table, id, s.dialect.Classify(err))
	}
	return &name, nil
}

// LocationName resolves a location id of the tenant to its display name.
func (s *AssetStore) LocationName(ctx context.Context, q Querier, tenantID, id int64) (*string, error) {
	return s.lookupName(ctx, q, "locations", tenantID, id)
}

// PersonName resolves a responsible person id of the tenant to its name.
func (s *AssetStore) PersonName(ctx context.Context, q Querier, tenantID, id int64) (*string, error) {
	return s.lookupName(ctx, q, "responsible_persons", tenantID, id)
}

// CreateLocation stores a location.
func (s *AssetStore) CreateLocation(ctx context.Context, q Querier, loc *models.Location) error {
	err := sqlx.GetContext(ctx, q, &loc.ID, q.Rebind(`
		INSERT INTO locations (tenant_id, name, floor, gateway_device_id) VALUES (?, ?, ?, ?) RETURNING id`),
		loc.TenantID, loc.Name, loc.Floor, loc.GatewayDeviceID)
	if err != nil {
		return fmt.Errorf("insert location: %w", s.dialect.Classify(err))
	}
	return nil
}

// SetLocationGateway records the device acting as the location's network gateway.
func (s *AssetStore) SetLocationGateway(ctx context.Context, q Querier, locationID int64, deviceID *int64) error {
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE locations SET gateway_device_id = ? WHERE id = ?`), deviceID, locationID)
	if err != nil {
		return fmt.Errorf("set gateway of location %d: %w", locationID, s.dialect.Classify(err))
	}
	return nil
}

// CreatePerson stores a responsible person.
func (s *AssetStore) CreatePerson(ctx context.Context, q Querier, p *models.ResponsiblePerson) error {
	err := sqlx.GetContext(ctx, q, &p.ID, q.Rebind(`
		INSERT INTO responsible_persons (tenant_id, name) VALUES (?, ?) RETURNING id`), p.TenantID, p.Name)
	if err != nil {
		return fmt.Errorf("insert responsible person: %w", s.dialect.Classify(err))
	}
	return nil
}
