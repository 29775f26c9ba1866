package models

import (
	"fmt"
	"time"
)

// AssetKind names one of the tracked asset tables.
type AssetKind string

const (
	KindDevice      AssetKind = "device"
	KindAccessPoint AssetKind = "access_point"
)

// AssetKinds lists every kind in table dependency order.
var AssetKinds = []AssetKind{KindDevice, KindAccessPoint}

// ParseAssetKind accepts the singular kind name or the plural URL segment.
func ParseAssetKind(s string) (AssetKind, error) {
	switch s {
	case "device", "devices":
		return KindDevice, nil
	case "access_point", "access_points", "access-points", "access-point":
		return KindAccessPoint, nil
	}
	return "", fmt.Errorf("unknown asset kind %q", s)
}

// AssetRef points at one asset row.
type AssetRef struct {
	Kind AssetKind `json:"kind"`
	ID   int64     `json:"id"`
}

func (r AssetRef) String() string { return fmt.Sprintf("%s/%d", r.Kind, r.ID) }

// AssetFields are the descriptive, caller-editable attributes of an asset.
// Hostname and OS only apply to devices; SSID and Firmware only to access points.
type AssetFields struct {
	Type                string  `json:"type" db:"type"`
	Manufacturer        *string `json:"manufacturer,omitempty" db:"manufacturer"`
	Model               *string `json:"model,omitempty" db:"model"`
	SerialNumber        *string `json:"serial_number,omitempty" db:"serial_number"`
	Hostname            *string `json:"hostname,omitempty" db:"hostname"`
	OS                  *string `json:"os,omitempty" db:"os"`
	SSID                *string `json:"ssid,omitempty" db:"ssid"`
	Firmware            *string `json:"firmware,omitempty" db:"firmware"`
	IPAddress           *string `json:"ip_address,omitempty" db:"ip_address"`
	MACAddress          *string `json:"mac_address,omitempty" db:"mac_address"`
	Status              *string `json:"status,omitempty" db:"status"`
	PurchasedOn         *string `json:"purchased_on,omitempty" db:"purchased_on"`
	InstallPosition     *string `json:"install_position,omitempty" db:"install_position"`
	Note                *string `json:"note,omitempty" db:"note"`
	LocationID          *int64  `json:"location_id,omitempty" db:"location_id"`
	ResponsiblePersonID *int64  `json:"responsible_person_id,omitempty" db:"responsible_person_id"`
}

// Asset is a persisted device or access point row.
type Asset struct {
	ID       int64     `json:"id" db:"id"`
	Kind     AssetKind `json:"kind" db:"-"`
	TenantID int64     `json:"tenant_id" db:"tenant_id"`
	AssetFields
	TagID     *int64    `json:"tag_id,omitempty" db:"tag_id"`
	MgmtTagID *int64    `json:"mgmt_tag_id,omitempty" db:"mgmt_tag_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (a *Asset) Ref() AssetRef { return AssetRef{Kind: a.Kind, ID: a.ID} }

// AssetSnapshot is an asset together with the display strings of everything
// it references. History is computed between two snapshots.
type AssetSnapshot struct {
	Asset
	LocationName          *string     `json:"location_name,omitempty"`
	ResponsiblePersonName *string     `json:"responsible_person_name,omitempty"`
	Tag                   *Identifier `json:"tag,omitempty"`
	ManagementTag         *Identifier `json:"management_tag,omitempty"`
}

// TagDisplay returns the composed general tag, or nil when the asset has none.
func (s *AssetSnapshot) TagDisplay() *string { return s.Tag.DisplayPtr() }

// ManagementTagDisplay returns the composed management tag, or nil.
func (s *AssetSnapshot) ManagementTagDisplay() *string { return s.ManagementTag.DisplayPtr() }

// Location is a room, classroom or other install site.
type Location struct {
	ID              int64   `json:"id" db:"id"`
	TenantID        int64   `json:"tenant_id" db:"tenant_id"`
	Name            string  `json:"name" db:"name"`
	Floor           *string `json:"floor,omitempty" db:"floor"`
	GatewayDeviceID *int64  `json:"gateway_device_id,omitempty" db:"gateway_device_id"`
}

// ResponsiblePerson is the staff member accountable for an asset.
type ResponsiblePerson struct {
	ID       int64  `json:"id" db:"id"`
	TenantID int64  `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
}

// Tenant is a school.
type Tenant struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
