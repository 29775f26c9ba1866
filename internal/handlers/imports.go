package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/auth"
	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/pkg/importer"
)

// ExcelImporter runs a workbook import for one tenant.
type ExcelImporter interface {
	Import(ctx context.Context, r io.Reader, opts importer.ImportOptions) (importer.ImportSummary, error)
}

// ImportsHandler handles Excel import operations
type ImportsHandler struct {
	Importer   ExcelImporter
	MaxBytes   int64
	DefaultMap string
	Log        logrus.FieldLogger
}

// NewImportsHandler creates a new imports handler
func NewImportsHandler(im ExcelImporter, defaultMap string, log logrus.FieldLogger) *ImportsHandler {
	return &ImportsHandler{
		Importer:   im,
		MaxBytes:   20 << 20, // 20 MB
		DefaultMap: defaultMap,
		Log:        log,
	}
}

// UploadExcel handles Excel file uploads for asset registration
func (h *ImportsHandler) UploadExcel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		http.Error(w, "content-type must be multipart/form-data", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.TenantID <= 0 {
		http.Error(w, "tenant is required", http.StatusUnauthorized)
		return
	}

	dryRun := r.FormValue("dry_run") == "true"
	mapping := r.FormValue("mapping")
	if mapping == "" {
		mapping = h.DefaultMap
	}
	maxErrors := 50
	if v := r.FormValue("max_errors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxErrors = n
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		http.Error(w, "only .xlsx files are accepted", http.StatusBadRequest)
		return
	}

	sum, impErr := h.Importer.Import(r.Context(), file, importer.ImportOptions{
		TenantID:    claims.TenantID,
		MappingPath: mapping,
		DryRun:      dryRun,
		MaxErrors:   maxErrors,
	})
	if errors.Is(impErr, inverrors.ErrTenantNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "TENANT_NOT_FOUND"})
		return
	}
	if impErr != nil {
		h.Log.WithError(impErr).WithFields(logrus.Fields{
			"tenant_id": claims.TenantID,
			"file":      header.Filename,
		}).Warn("excel import failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "IMPORT_FAILED",
			"details": impErr.Error(),
			"data":    sum, // might include partial
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": sum,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
		},
	})
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	return strings.HasSuffix(strings.ToLower(h.Filename), ".xlsx")
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
