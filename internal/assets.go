package internal

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"campus-inventory-api/internal/identifier"
	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/service"
)

// assetRequest is the body of create and update calls. Omitting tag keeps
// (update) or auto-numbers (create) the general tag.
type assetRequest struct {
	models.AssetFields
	Tag           *identifier.Request `json:"tag,omitempty"`
	ManagementTag *identifier.Request `json:"management_tag,omitempty"`
}

// listAssets handles asset listing with pagination
func (s *Server) listAssets(kind models.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := parseListParams(r)
		assets, total, err := s.Assets.ListAssets(r.Context(), tenantID(r), kind, page)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sendListResponse(w, assets, total, page)
	}
}

// getAsset returns the asset with its resolved references
func (s *Server) getAsset(kind models.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.Assets.GetAsset(r.Context(), tenantID(r), models.AssetRef{Kind: kind, ID: id})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// createAsset registers a new asset and assigns its identifiers
func (s *Server) createAsset(kind models.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assetRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.Assets.CreateAsset(r.Context(), service.CreateInput{
			TenantID:      tenantID(r),
			Kind:          kind,
			Fields:        req.AssetFields,
			Tag:           req.Tag,
			ManagementTag: req.ManagementTag,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, snap)
	}
}

// updateAsset replaces the asset's fields; changes are recorded against the caller
func (s *Server) updateAsset(kind models.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req assetRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		snap, err := s.Assets.UpdateAsset(r.Context(), service.UpdateInput{
			TenantID:      tenantID(r),
			Ref:           models.AssetRef{Kind: kind, ID: id},
			Fields:        req.AssetFields,
			Tag:           req.Tag,
			ManagementTag: req.ManagementTag,
			ActorID:       actorID(r),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// deleteAsset removes the asset; its identifiers stay allocated
func (s *Server) deleteAsset(kind models.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.Assets.DeleteAsset(r.Context(), tenantID(r), models.AssetRef{Kind: kind, ID: id}, actorID(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// assetHistory lists the change log of one asset, newest first
func (s *Server) assetHistory(kind models.AssetKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ref := models.AssetRef{Kind: kind, ID: id}
		if _, err := s.Assets.GetAsset(r.Context(), tenantID(r), ref); err != nil {
			s.writeError(w, r, err)
			return
		}
		entries, err := s.History.ListForAsset(r.Context(), tenantID(r), ref)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": entries})
	}
}

// tenantHistory lists the tenant's change log with optional filters:
// kind, field, actor_id, since and until (RFC 3339).
func (s *Server) tenantHistory(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	var filter models.HistoryFilter

	if v := strings.TrimSpace(values.Get("kind")); v != "" {
		kind, err := models.ParseAssetKind(v)
		if err != nil {
			s.writeError(w, r, inverrors.Invalid("kind", err.Error()))
			return
		}
		filter.AssetKind = kind
	}
	filter.Field = models.HistoryField(strings.TrimSpace(values.Get("field")))
	if v := strings.TrimSpace(values.Get("actor_id")); v != "" {
		actor, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, r, inverrors.Invalid("actor_id", "must be an integer"))
			return
		}
		filter.ActorID = actor
	}
	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := strings.TrimSpace(values.Get(name)); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.writeError(w, r, inverrors.Invalid(name, "must be an RFC 3339 timestamp"))
				return
			}
			*dst = t
		}
	}

	result, err := s.History.ListForTenant(r.Context(), tenantID(r), filter, parseListParams(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// identifierKind reads the kind query parameter, defaulting to tag.
func identifierKind(r *http.Request) (models.IdentifierKind, error) {
	kind := models.IdentifierKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	switch kind {
	case "":
		return models.IdentifierTag, nil
	case models.IdentifierTag, models.IdentifierManagement:
		return kind, nil
	}
	return "", inverrors.Invalid("kind", "must be tag or management")
}

// listIdentifiers lists the tenant's allocated identifiers of one kind
func (s *Server) listIdentifiers(w http.ResponseWriter, r *http.Request) {
	kind, err := identifierKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ids, err := s.Assets.ListIdentifiers(r.Context(), tenantID(r), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": ids})
}

// nextIdentifier previews the next auto-assigned number for a category/year.
func (s *Server) nextIdentifier(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	kind, err := identifierKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	category := strings.ToUpper(strings.TrimSpace(values.Get("category")))
	year := strings.TrimSpace(values.Get("year"))

	seq, err := s.Assets.NextSequence(r.Context(), tenantID(r), kind, category, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key := models.IdentifierKey{TenantID: tenantID(r), Kind: kind, Category: category, Year: year, Sequence: seq}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":     kind,
		"category": category,
		"year":     year,
		"sequence": seq,
		"display":  key.Display(),
	})
}
