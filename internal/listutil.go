package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/auth"
	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
)

// parseListParams parses limit and offset from the request.
// Defaults: limit=50 (max 200), offset=0
func parseListParams(r *http.Request) models.Page {
	values := r.URL.Query()

	limit := 50
	if s := strings.TrimSpace(values.Get("limit")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			if v > 200 {
				v = 200
			}
			limit = v
		}
	}

	offset := 0
	if s := strings.TrimSpace(values.Get("offset")); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	return models.Page{Limit: limit, Offset: offset}
}

// idParam reads a positive integer URL parameter.
func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, inverrors.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func sendListResponse(w http.ResponseWriter, data any, total int, page models.Page) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"page": map[string]int{
			"limit":  page.Limit,
			"offset": page.Offset,
			"total":  total,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return inverrors.Invalid("", "invalid JSON: "+err.Error())
	}
	return nil
}

// errorResponse extends the auth error body with the offending field.
type errorResponse struct {
	auth.ErrorResponse
	Field string `json:"field,omitempty"`
}

// writeError maps the inventory error taxonomy onto HTTP statuses. Internal
// failures are logged and answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *inverrors.ValidationError
		dup  *inverrors.DuplicateIdentifierError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			ErrorResponse: auth.ErrorResponse{Error: verr.Error(), Code: "VALIDATION_FAILED"},
			Field:         verr.Field,
		})
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, errorResponse{
			ErrorResponse: auth.ErrorResponse{Error: dup.Error(), Code: "DUPLICATE_IDENTIFIER"},
		})
	case errors.Is(err, inverrors.ErrAssetNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			ErrorResponse: auth.ErrorResponse{Error: "asset not found", Code: "ASSET_NOT_FOUND"},
		})
	case errors.Is(err, inverrors.ErrTenantNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			ErrorResponse: auth.ErrorResponse{Error: "tenant not found", Code: "TENANT_NOT_FOUND"},
		})
	default:
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			ErrorResponse: auth.ErrorResponse{Error: "internal error", Code: "INTERNAL"},
		})
	}
}
