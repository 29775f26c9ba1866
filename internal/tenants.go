package internal

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/auth"
	"campus-inventory-api/internal/deletion"
	"campus-inventory-api/internal/models"
)

// createTenant registers a school
func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tenant, err := s.Assets.CreateTenant(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

// tenantStats reports per-table row counts for the tenant
func (s *Server) tenantStats(w http.ResponseWriter, r *http.Request) {
	id := auth.TargetTenantFromContext(r.Context())
	counts, err := s.Deletion.Counts(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var total int64
	for _, c := range counts {
		total += c.Before
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": id,
		"tables":    counts,
		"total":     total,
	})
}

// deleteTenantData purges the tenant's inventory rows. A groups query
// parameter (comma separated) restricts the purge to those table groups.
func (s *Server) deleteTenantData(w http.ResponseWriter, r *http.Request) {
	id := auth.TargetTenantFromContext(r.Context())

	var (
		summary *models.DeletionSummary
		err     error
	)
	if groups := strings.TrimSpace(r.URL.Query().Get("groups")); groups != "" {
		summary, err = s.Deletion.DeleteTenantSelective(r.Context(), id, deletion.ParseGroups(groups))
	} else {
		summary, err = s.Deletion.DeleteTenant(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":  id,
		"actor_id":   actorID(r),
		"rows":       summary.Total,
		"supporting": summary.Supporting,
	}).Info("tenant data deleted via API")
	writeJSON(w, http.StatusOK, summary)
}

// createLocation adds a location to the caller's tenant
func (s *Server) createLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Location
	if err := decodeJSON(r, &loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	loc.TenantID = tenantID(r)
	if err := s.Assets.CreateLocation(r.Context(), &loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

// createResponsiblePerson adds a staff member to the caller's tenant
func (s *Server) createResponsiblePerson(w http.ResponseWriter, r *http.Request) {
	var p models.ResponsiblePerson
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.TenantID = tenantID(r)
	if err := s.Assets.CreateResponsiblePerson(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
