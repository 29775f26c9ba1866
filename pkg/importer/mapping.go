package importer

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"campus-inventory-api/internal/identifier"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/service"
)

// MappingConfig represents the YAML mapping configuration
type MappingConfig struct {
	Version  int                    `yaml:"version"`
	Defaults map[string]string      `yaml:"defaults"`
	Sheets   map[string]SheetConfig `yaml:"sheets"`
}

type SheetConfig struct {
	Kind        string                  `yaml:"kind"`
	Aliases     map[string][]string     `yaml:"aliases"`
	Columns     map[string]ColumnConfig `yaml:"columns"`
	TypeAliases map[string]string       `yaml:"type_aliases"`
}

type ColumnConfig struct {
	Field string `yaml:"field"`
	Type  string `yaml:"type"`
}

var knownFields = map[string]bool{
	"type": true, "manufacturer": true, "model": true, "serial_number": true,
	"hostname": true, "os": true, "ssid": true, "firmware": true,
	"ip_address": true, "mac_address": true, "status": true, "purchased_on": true,
	"install_position": true, "note": true, "location_id": true, "responsible_person_id": true,
	"tag_category": true, "tag_year": true, "tag_sequence": true,
	"mgmt_category": true, "mgmt_year": true, "mgmt_sequence": true,
}

// DefaultMapping is used when no mapping file is configured.
func DefaultMapping() *MappingConfig {
	return &MappingConfig{
		Version:  1,
		Defaults: map[string]string{"status": "in_use"},
		Sheets: map[string]SheetConfig{
			"Devices": {
				Kind: "device",
				Aliases: map[string][]string{
					"Serial": {"Serial Number", "S/N"},
					"IP":     {"IP Address"},
				},
				Columns: map[string]ColumnConfig{
					"Type":          {Field: "type", Type: "TEXT"},
					"Manufacturer":  {Field: "manufacturer", Type: "TEXT"},
					"Model":         {Field: "model", Type: "TEXT"},
					"Serial":        {Field: "serial_number", Type: "TEXT"},
					"Hostname":      {Field: "hostname", Type: "TEXT"},
					"OS":            {Field: "os", Type: "TEXT"},
					"IP":            {Field: "ip_address", Type: "INET"},
					"MAC":           {Field: "mac_address", Type: "MAC"},
					"Purchased":     {Field: "purchased_on", Type: "DATE"},
					"Location ID":   {Field: "location_id", Type: "INT"},
					"Tag Category":  {Field: "tag_category", Type: "TEXT"},
					"Tag Year":      {Field: "tag_year", Type: "TEXT"},
					"Tag No":        {Field: "tag_sequence", Type: "INT"},
					"Mgmt Category": {Field: "mgmt_category", Type: "TEXT"},
					"Note":          {Field: "note", Type: "TEXT"},
				},
			},
			"Access Points": {
				Kind: "access_point",
				Columns: map[string]ColumnConfig{
					"Type":         {Field: "type", Type: "TEXT"},
					"Manufacturer": {Field: "manufacturer", Type: "TEXT"},
					"Model":        {Field: "model", Type: "TEXT"},
					"Serial":       {Field: "serial_number", Type: "TEXT"},
					"SSID":         {Field: "ssid", Type: "TEXT"},
					"Firmware":     {Field: "firmware", Type: "TEXT"},
					"IP":           {Field: "ip_address", Type: "INET"},
					"Location ID":  {Field: "location_id", Type: "INT"},
				},
			},
		},
	}
}

// resolveHeader maps column indexes of the header row to field names,
// matching headers and their aliases case-insensitively.
func (c SheetConfig) resolveHeader(header map[int]string) map[int]string {
	lookup := map[string]string{}
	for name, col := range c.Columns {
		lookup[strings.ToUpper(name)] = col.Field
		for _, alias := range c.Aliases[name] {
			lookup[strings.ToUpper(alias)] = col.Field
		}
	}
	out := map[int]string{}
	for idx, name := range header {
		if field, ok := lookup[strings.ToUpper(strings.TrimSpace(name))]; ok {
			out[idx] = field
		}
	}
	return out
}

func (c SheetConfig) headers() []string {
	names := lo.Keys(c.Columns)
	sort.Strings(names)
	return names
}

func (c SheetConfig) columnType(field string) string {
	for _, col := range c.Columns {
		if col.Field == field {
			return col.Type
		}
	}
	return "TEXT"
}

// buildInput converts one row into a create request. Spreadsheet type
// names are translated through type_aliases; a row whose type has no
// derivable category must carry an explicit tag category.
func (c SheetConfig) buildInput(tenantID int64, kind models.AssetKind, values map[string]string) (service.CreateInput, error) {
	parsed := map[string]string{}
	for field, raw := range values {
		v, err := parseValue(raw, c.columnType(field))
		if err != nil {
			return service.CreateInput{}, fmt.Errorf("failed to parse %s: %v", field, err)
		}
		parsed[field] = v
	}

	assetType := parsed["type"]
	if alias, ok := c.TypeAliases[assetType]; ok {
		assetType = alias
	}
	assetType = strings.ToLower(assetType)
	if assetType == "" {
		return service.CreateInput{}, fmt.Errorf("type is required")
	}
	if _, ok := identifier.DeriveCategory(assetType, parsed["mgmt_category"]); !ok && parsed["tag_category"] == "" {
		return service.CreateInput{}, fmt.Errorf("no tag category known for type %q", assetType)
	}

	str := func(field string) *string {
		if v := parsed[field]; v != "" {
			return lo.ToPtr(v)
		}
		return nil
	}
	id := func(field string) *int64 {
		if v := parsed[field]; v != "" {
			n, _ := strconv.ParseInt(v, 10, 64)
			return &n
		}
		return nil
	}

	fields := models.AssetFields{
		Type:                assetType,
		Manufacturer:        str("manufacturer"),
		Model:               str("model"),
		SerialNumber:        str("serial_number"),
		IPAddress:           str("ip_address"),
		MACAddress:          str("mac_address"),
		Status:              str("status"),
		PurchasedOn:         str("purchased_on"),
		InstallPosition:     str("install_position"),
		Note:                str("note"),
		LocationID:          id("location_id"),
		ResponsiblePersonID: id("responsible_person_id"),
	}
	switch kind {
	case models.KindDevice:
		fields.Hostname = str("hostname")
		fields.OS = str("os")
	case models.KindAccessPoint:
		fields.SSID = str("ssid")
		fields.Firmware = str("firmware")
	}

	return service.CreateInput{
		TenantID:      tenantID,
		Kind:          kind,
		Fields:        fields,
		Tag:           tagRequest(parsed, "tag"),
		ManagementTag: tagRequest(parsed, "mgmt"),
	}, nil
}

func parseValue(value, valueType string) (string, error) {
	switch strings.ToUpper(strings.TrimSuffix(valueType, "?")) {
	case "INT":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil || n != float64(int64(n)) {
			return "", fmt.Errorf("invalid number: %s", value)
		}
		return strconv.FormatInt(int64(n), 10), nil
	case "INET":
		ip := net.ParseIP(value)
		if ip == nil {
			return "", fmt.Errorf("invalid IP address: %s", value)
		}
		return ip.String(), nil
	case "MAC":
		mac, err := net.ParseMAC(value)
		if err != nil {
			return "", fmt.Errorf("invalid MAC address: %s", value)
		}
		return mac.String(), nil
	case "DATE":
		for _, format := range []string{time.DateOnly, "2006/01/02", "01/02/2006", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(format, value); err == nil {
				return t.Format(time.DateOnly), nil
			}
		}
		return "", fmt.Errorf("invalid date format: %s", value)
	default:
		return value, nil
	}
}
