package models

import "time"

// HistoryField is the symbolic name of a tracked asset field.
type HistoryField string

const (
	FieldType              HistoryField = "type"
	FieldManufacturer      HistoryField = "manufacturer"
	FieldModel             HistoryField = "model"
	FieldSerialNumber      HistoryField = "serial_number"
	FieldHostname          HistoryField = "hostname"
	FieldOS                HistoryField = "os"
	FieldSSID              HistoryField = "ssid"
	FieldFirmware          HistoryField = "firmware"
	FieldIPAddress         HistoryField = "ip_address"
	FieldMACAddress        HistoryField = "mac_address"
	FieldStatus            HistoryField = "status"
	FieldPurchasedOn       HistoryField = "purchased_on"
	FieldInstallPosition   HistoryField = "install_position"
	FieldNote              HistoryField = "note"
	FieldLocation          HistoryField = "location"
	FieldResponsiblePerson HistoryField = "responsible_person"
	FieldTag               HistoryField = "tag"
	FieldManagementTag     HistoryField = "management_tag"
)

// HistoryEntry records one field change on one asset.
type HistoryEntry struct {
	ID         int64        `json:"id" db:"id"`
	TenantID   int64        `json:"tenant_id" db:"tenant_id"`
	AssetKind  AssetKind    `json:"asset_kind" db:"asset_kind"`
	AssetID    int64        `json:"asset_id" db:"asset_id"`
	Field      HistoryField `json:"field" db:"field_name"`
	Before     *string      `json:"before,omitempty" db:"before_value"`
	After      *string      `json:"after,omitempty" db:"after_value"`
	ActorID    int64        `json:"actor_id" db:"actor_id"`
	ModifiedAt time.Time    `json:"modified_at" db:"modified_at"`
}

// HistoryFilter narrows a tenant-wide history listing. Zero values match all.
type HistoryFilter struct {
	AssetKind AssetKind
	Field     HistoryField
	ActorID   int64
	Since     time.Time
	Until     time.Time
}

// Page selects a window of results.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// HistoryPage is one page of a tenant-wide history listing.
type HistoryPage struct {
	Entries []HistoryEntry `json:"data"`
	Total   int            `json:"total"`
	Page    Page           `json:"page"`
}
