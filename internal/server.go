package internal

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal/auth"
	"campus-inventory-api/internal/config"
	"campus-inventory-api/internal/deletion"
	"campus-inventory-api/internal/handlers"
	"campus-inventory-api/internal/history"
	"campus-inventory-api/internal/metrics"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/service"
	"campus-inventory-api/internal/store"
	"campus-inventory-api/pkg/importer"
)

type Server struct {
	DB         *store.DB
	Router     *chi.Mux
	JWTManager *auth.JWTManager
	Metrics    *metrics.Metrics

	Assets   *service.Service
	History  *history.Query
	Deletion *deletion.Orchestrator
	Imports  *handlers.ImportsHandler

	log logrus.FieldLogger
}

// NewServer wires the inventory core behind a chi router. The database must
// already be migrated.
func NewServer(db *store.DB, cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	assets := service.New(db, log, m)

	s := &Server{
		DB:         db,
		Router:     chi.NewRouter(),
		JWTManager: jwtManager,
		Metrics:    m,
		Assets:     assets,
		History:    history.NewQuery(db, log),
		Deletion: deletion.NewOrchestrator(db, log, m, deletion.Options{
			MaxRetries:      cfg.DeleteMaxRetries,
			InitialInterval: cfg.DeleteRetryInitial,
		}),
		Imports: handlers.NewImportsHandler(importer.New(assets, log), cfg.ImportMapping, log),
		log:     log,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(requestLogger(log))
	s.Router.Use(middleware.Recoverer)
	if cfg.EnableMetrics {
		s.Router.Use(s.Metrics.Middleware())
		s.Router.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	// Public routes
	s.Router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	s.Router.Get("/dbping", s.dbPing)

	s.Router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(s.JWTManager, log))
		s.mountProtectedRoutes(r)
	})

	return s, nil
}

// Close properly shuts down the server and cleans up resources
func (s *Server) Close(ctx context.Context) error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *Server) dbPing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		s.log.WithError(err).Warn("database ping failed")
		http.Error(w, "db: unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := w.Write([]byte("db: ok")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// mountProtectedRoutes mounts all protected routes that require authentication
func (s *Server) mountProtectedRoutes(r chi.Router) {
	for path, kind := range map[string]models.AssetKind{
		"/devices":       models.KindDevice,
		"/access-points": models.KindAccessPoint,
	} {
		r.Route(path, func(r chi.Router) {
			r.Get("/", s.listAssets(kind))
			r.Get("/{id}", s.getAsset(kind))
			r.Get("/{id}/history", s.assetHistory(kind))
			r.With(auth.RequireWriter).Post("/", s.createAsset(kind))
			r.With(auth.RequireWriter).Put("/{id}", s.updateAsset(kind))
			r.With(auth.RequireAdmin).Delete("/{id}", s.deleteAsset(kind))
		})
	}

	r.Get("/history", s.tenantHistory)
	r.Get("/identifiers", s.listIdentifiers)
	r.Get("/identifiers/next", s.nextIdentifier)

	r.With(auth.RequireWriter).Post("/locations", s.createLocation)
	r.With(auth.RequireWriter).Post("/responsible-persons", s.createResponsiblePerson)

	// Tenant administration
	r.With(auth.RequireAdmin, auth.RequireMainTenant).Post("/tenants", s.createTenant)
	r.Route("/tenants/{id}", func(r chi.Router) {
		r.Use(auth.RequireAdmin, auth.ScopeTenant(func(r *http.Request) string { return chi.URLParam(r, "id") }))
		r.Get("/stats", s.tenantStats)
		r.Delete("/data", s.deleteTenantData)
	})

	r.With(auth.RequireWriter).Post("/imports/excel", s.Imports.UploadExcel)
}
