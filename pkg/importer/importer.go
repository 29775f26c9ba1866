package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tealeg/xlsx/v3"
	"gopkg.in/yaml.v3"

	"campus-inventory-api/internal/identifier"
	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/service"
)

// Registrar is the part of the asset service the importer needs.
type Registrar interface {
	CreateAsset(ctx context.Context, in service.CreateInput) (*models.AssetSnapshot, error)
	ValidateCreate(in service.CreateInput) error
}

// ImportOptions defines the configuration for Excel import operations
type ImportOptions struct {
	TenantID    int64
	MappingPath string // empty uses DefaultMapping
	DryRun      bool
	MaxErrors   int // default 50
}

// RowError represents an error that occurred during row processing
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// SheetSummary contains the import statistics for a single sheet
type SheetSummary struct {
	Name     string     `json:"name"`
	Kind     string     `json:"kind"`
	Inserted int        `json:"inserted"`
	Skipped  int        `json:"skipped"`
	Errors   int        `json:"errors"`
	Samples  []RowError `json:"error_samples,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// ImportSummary contains the overall import statistics
type ImportSummary struct {
	Inserted int            `json:"inserted"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	Sheets   []SheetSummary `json:"sheets"`
	DryRun   bool           `json:"dry_run"`
}

// maxSamples caps the error samples kept per sheet.
const maxSamples = 20

// Importer registers spreadsheet rows as assets.
type Importer struct {
	reg Registrar
	log logrus.FieldLogger
}

func New(reg Registrar, log logrus.FieldLogger) *Importer {
	return &Importer{reg: reg, log: log}
}

// Import reads every mapped sheet of an .xlsx workbook and creates one asset
// per non-empty row. Rows are independent: a rejected row is counted and
// sampled, the rest continue. A missing tenant aborts the import.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts ImportOptions) (ImportSummary, error) {
	summary := ImportSummary{
		DryRun: opts.DryRun,
		Sheets: []SheetSummary{},
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 50
	}

	mapping := DefaultMapping()
	if opts.MappingPath != "" {
		var err error
		if mapping, err = LoadMapping(opts.MappingPath); err != nil {
			return summary, err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return summary, fmt.Errorf("failed to read Excel file: %w", err)
	}
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return summary, fmt.Errorf("failed to open Excel file: %w", err)
	}

	log := im.log.WithField("tenant_id", opts.TenantID)
	for _, sheet := range xlFile.Sheets {
		cfg, ok := mapping.Sheets[sheet.Name]
		if !ok {
			log.WithField("sheet", sheet.Name).Debug("sheet has no mapping, skipped")
			continue
		}
		sheetSummary, err := im.processSheet(ctx, sheet, cfg, mapping.Defaults, opts)
		summary.Sheets = append(summary.Sheets, sheetSummary)
		summary.Inserted += sheetSummary.Inserted
		summary.Skipped += sheetSummary.Skipped
		summary.Errors += sheetSummary.Errors
		if err != nil {
			return summary, err
		}
		if summary.Errors > opts.MaxErrors {
			return summary, fmt.Errorf("too many errors (%d), stopping import", summary.Errors)
		}
	}

	log.WithFields(logrus.Fields{
		"rows":    summary.Inserted,
		"skipped": summary.Skipped,
		"errors":  summary.Errors,
		"dry_run": opts.DryRun,
	}).Info("excel import finished")
	return summary, nil
}

func (im *Importer) processSheet(ctx context.Context, sheet *xlsx.Sheet, cfg SheetConfig, defaults map[string]string, opts ImportOptions) (SheetSummary, error) {
	summary := SheetSummary{Name: sheet.Name, Kind: cfg.Kind}
	kind, err := models.ParseAssetKind(cfg.Kind)
	if err != nil {
		return summary, fmt.Errorf("sheet %s: %w", sheet.Name, err)
	}

	rows, err := readRows(sheet)
	if err != nil {
		return summary, fmt.Errorf("sheet %s: %w", sheet.Name, err)
	}
	if len(rows) == 0 {
		return summary, nil
	}
	columns := cfg.resolveHeader(rows[0])

	fail := func(row int, msg string) {
		summary.Errors++
		if len(summary.Samples) < maxSamples {
			summary.Samples = append(summary.Samples, RowError{Sheet: sheet.Name, Row: row, Message: msg})
		}
	}

	for i, cells := range rows[1:] {
		rowNum := i + 2
		values := map[string]string{}
		for col, field := range columns {
			if v := cells[col]; v != "" {
				values[field] = v
			}
		}
		if len(values) == 0 {
			summary.Skipped++
			continue
		}
		for field, v := range defaults {
			if _, ok := values[field]; !ok {
				values[field] = v
			}
		}

		in, err := cfg.buildInput(opts.TenantID, kind, values)
		if err != nil {
			fail(rowNum, err.Error())
			continue
		}

		if opts.DryRun {
			if err := im.reg.ValidateCreate(in); err != nil {
				fail(rowNum, err.Error())
				continue
			}
			summary.Inserted++
			continue
		}

		snap, err := im.reg.CreateAsset(ctx, in)
		switch {
		case errors.Is(err, inverrors.ErrTenantNotFound):
			return summary, err
		case errors.Is(err, inverrors.ErrValidation), errors.Is(err, inverrors.ErrDuplicateIdentifier):
			fail(rowNum, err.Error())
			continue
		case err != nil:
			return summary, fmt.Errorf("sheet %s row %d: %w", sheet.Name, rowNum, err)
		}
		summary.Inserted++
		if tag := snap.TagDisplay(); tag != nil {
			summary.Tags = append(summary.Tags, *tag)
		}
	}
	return summary, nil
}

// readRows returns each row as a column index -> trimmed text map.
func readRows(sheet *xlsx.Sheet) ([]map[int]string, error) {
	var rows []map[int]string
	err := sheet.ForEachRow(func(row *xlsx.Row) error {
		cells := map[int]string{}
		err := row.ForEachCell(func(c *xlsx.Cell) error {
			col, _ := c.GetCoordinates()
			if v := strings.TrimSpace(c.String()); v != "" {
				cells[col] = v
			}
			return nil
		})
		if err != nil {
			return err
		}
		idx := row.GetCoordinate()
		for len(rows) <= idx {
			rows = append(rows, map[int]string{})
		}
		rows[idx] = cells
		return nil
	})
	return rows, err
}

// WriteTemplate writes an empty workbook with one header row per mapped
// sheet, using the first header name of each column.
func WriteTemplate(w io.Writer, mapping *MappingConfig) error {
	file := xlsx.NewFile()
	names := make([]string, 0, len(mapping.Sheets))
	for name := range mapping.Sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sheet, err := file.AddSheet(name)
		if err != nil {
			return err
		}
		row := sheet.AddRow()
		for _, header := range mapping.Sheets[name].headers() {
			row.AddCell().SetString(header)
		}
	}
	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// LoadMapping reads a YAML column mapping from disk.
func LoadMapping(path string) (*MappingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping config: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes and checks a YAML column mapping.
func ParseMapping(data []byte) (*MappingConfig, error) {
	var m MappingConfig
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping config: %w", err)
	}
	if len(m.Sheets) == 0 {
		return nil, errors.New("mapping config defines no sheets")
	}
	for name, sheet := range m.Sheets {
		if _, err := models.ParseAssetKind(sheet.Kind); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		for header, col := range sheet.Columns {
			if !knownFields[col.Field] {
				return nil, fmt.Errorf("sheet %s column %s: unknown field %q", name, header, col.Field)
			}
		}
	}
	return &m, nil
}

// tagRequest builds an identifier request from the prefixed columns, or nil
// when none were filled.
func tagRequest(values map[string]string, prefix string) *identifier.Request {
	r := identifier.Request{
		Category: values[prefix+"_category"],
		Year:     values[prefix+"_year"],
		Sequence: values[prefix+"_sequence"],
	}
	if r == (identifier.Request{}) {
		return nil
	}
	return &r
}
