package models

// TableGroup names a set of tables purged together by selective deletion.
type TableGroup string

const (
	GroupDevices            TableGroup = "devices"
	GroupAccessPoints       TableGroup = "access_points"
	GroupIdentifiers        TableGroup = "identifiers"
	GroupResponsiblePersons TableGroup = "responsible_persons"
	GroupManagementTags     TableGroup = "management_tags"
	GroupLocations          TableGroup = "locations"
)

// TableCount is the per-table outcome of a deletion.
type TableCount struct {
	Table   string `json:"table"`
	Before  int64  `json:"before"`
	Deleted int64  `json:"deleted"`
}

// DeletionSummary reports what a tenant deletion removed. Total counts the
// inventory records (devices, access points, responsible persons and
// locations); Supporting counts the identifier and history rows removed with
// them. Tables breaks both down per table.
type DeletionSummary struct {
	TenantID   int64        `json:"tenant_id"`
	Selective  bool         `json:"selective"`
	Groups     []TableGroup `json:"groups,omitempty"`
	Tables     []TableCount `json:"tables"`
	Total      int64        `json:"total"`
	Supporting int64        `json:"supporting"`
	Attempts   int          `json:"attempts"`
}
