// Package history records field-level asset changes and serves them back.
//
// Entries are only ever appended. Reference fields (location, responsible
// person and both identifiers) are compared by their display value, so
// replacing an identifier with one that renders the same is not a change.
package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/metrics"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
)

type trackedField struct {
	name  models.HistoryField
	value func(*models.AssetSnapshot) *string
}

var scalarFields = []trackedField{
	{models.FieldType, func(s *models.AssetSnapshot) *string { return &s.Type }},
	{models.FieldManufacturer, func(s *models.AssetSnapshot) *string { return s.Manufacturer }},
	{models.FieldModel, func(s *models.AssetSnapshot) *string { return s.Model }},
	{models.FieldSerialNumber, func(s *models.AssetSnapshot) *string { return s.SerialNumber }},
	{models.FieldIPAddress, func(s *models.AssetSnapshot) *string { return s.IPAddress }},
	{models.FieldMACAddress, func(s *models.AssetSnapshot) *string { return s.MACAddress }},
	{models.FieldStatus, func(s *models.AssetSnapshot) *string { return s.Status }},
	{models.FieldPurchasedOn, func(s *models.AssetSnapshot) *string { return s.PurchasedOn }},
	{models.FieldInstallPosition, func(s *models.AssetSnapshot) *string { return s.InstallPosition }},
	{models.FieldNote, func(s *models.AssetSnapshot) *string { return s.Note }},
}

var kindFields = map[models.AssetKind][]trackedField{
	models.KindDevice: {
		{models.FieldHostname, func(s *models.AssetSnapshot) *string { return s.Hostname }},
		{models.FieldOS, func(s *models.AssetSnapshot) *string { return s.OS }},
	},
	models.KindAccessPoint: {
		{models.FieldSSID, func(s *models.AssetSnapshot) *string { return s.SSID }},
		{models.FieldFirmware, func(s *models.AssetSnapshot) *string { return s.Firmware }},
	},
}

var referenceFields = []trackedField{
	{models.FieldLocation, func(s *models.AssetSnapshot) *string { return s.LocationName }},
	{models.FieldResponsiblePerson, func(s *models.AssetSnapshot) *string { return s.ResponsiblePersonName }},
	{models.FieldTag, (*models.AssetSnapshot).TagDisplay},
	{models.FieldManagementTag, (*models.AssetSnapshot).ManagementTagDisplay},
}

// TrackedFields lists the fields compared for an asset kind, in diff order.
func TrackedFields(kind models.AssetKind) []models.HistoryField {
	var out []models.HistoryField
	for _, f := range fieldsFor(kind) {
		out = append(out, f.name)
	}
	return out
}

func fieldsFor(kind models.AssetKind) []trackedField {
	fields := append([]trackedField{}, scalarFields...)
	fields = append(fields, kindFields[kind]...)
	return append(fields, referenceFields...)
}

func blank(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func clone(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// Diff returns one entry per tracked field whose value differs between prev
// and next. nil and "" compare equal; recorded values keep their original
// form. Entries carry the asset reference but no actor or timestamp.
func Diff(prev, next *models.AssetSnapshot) []models.HistoryEntry {
	var entries []models.HistoryEntry
	for _, f := range fieldsFor(next.Kind) {
		before, after := f.value(prev), f.value(next)
		if blank(before) == blank(after) {
			continue
		}
		entries = append(entries, models.HistoryEntry{
			TenantID:  next.TenantID,
			AssetKind: next.Kind,
			AssetID:   next.ID,
			Field:     f.name,
			Before:    clone(before),
			After:     clone(after),
		})
	}
	return entries
}

// Recorder persists the diff between two snapshots of an asset.
type Recorder struct {
	store   *store.HistoryStore
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRecorder(hs *store.HistoryStore, log logrus.FieldLogger, m *metrics.Metrics) *Recorder {
	return &Recorder{store: hs, log: log, metrics: m, now: time.Now}
}

// Record writes one entry per changed field through q, which should be the
// transaction that also saves next. All entries share one timestamp.
func (r *Recorder) Record(ctx context.Context, q store.Querier, prev, next *models.AssetSnapshot, actorID int64) ([]models.HistoryEntry, error) {
	entries := Diff(prev, next)
	if len(entries) == 0 {
		return nil, nil
	}
	at := r.now().UTC()
	for i := range entries {
		entries[i].ActorID = actorID
		entries[i].ModifiedAt = at
		if err := r.store.Insert(ctx, q, &entries[i]); err != nil {
			return nil, err
		}
		r.metrics.HistoryEntry(string(entries[i].AssetKind), string(entries[i].Field))
	}
	r.log.WithFields(logrus.Fields{
		"tenant_id":  next.TenantID,
		"asset_kind": next.Kind,
		"asset_id":   next.ID,
		"rows":       len(entries),
	}).Debug("history recorded")
	return entries, nil
}
