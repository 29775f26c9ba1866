package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"campus-inventory-api/internal"
	"campus-inventory-api/internal/config"
	"campus-inventory-api/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "campus-inventory-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load and validate configuration
	cfg, err := config.LoadAndValidate()
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		_ = db.Close()
		return err
	}
	if len(applied) > 0 {
		log.WithField("migrations", applied).Info("migrations applied")
	}

	srv, err := internal.NewServer(db, cfg, log)
	if err != nil {
		_ = db.Close()
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":         cfg.ListenAddr,
			"driver":       cfg.DBDriver,
			"jwt_issuer":   cfg.JWTIssuer,
			"jwt_audience": cfg.JWTAudience,
			"jwt_expiry":   cfg.JWTExpiry.String(),
		}).Info("starting campus inventory API server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	return srv.Close(shutdownCtx)
}
