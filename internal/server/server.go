// Package server wires the Sync Core's components — Blob Store, Blob
// Index, Metadata Store, Token Service, Rate Limiter, Audit Log, and
// the Auth/Vault/Sync Engine/File Transfer services — into a single
// HTTP server.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/DevNvll/echopad/internal/api"
	"github.com/DevNvll/echopad/internal/audit"
	"github.com/DevNvll/echopad/internal/auth"
	"github.com/DevNvll/echopad/internal/blobindex"
	"github.com/DevNvll/echopad/internal/config"
	"github.com/DevNvll/echopad/internal/db/migrations"
	"github.com/DevNvll/echopad/internal/idp"
	"github.com/DevNvll/echopad/internal/metrics"
	"github.com/DevNvll/echopad/internal/middleware"
	"github.com/DevNvll/echopad/internal/ratelimit"
	"github.com/DevNvll/echopad/internal/storage"
	"github.com/DevNvll/echopad/internal/syncengine"
	"github.com/DevNvll/echopad/internal/tokenservice"
	"github.com/DevNvll/echopad/internal/transfer"
	"github.com/DevNvll/echopad/internal/vault"
)

// Server hosts the Sync Core's HTTP API over the wired domain services.
type Server struct {
	config *config.Config

	httpServer *http.Server

	db           *sql.DB
	blobs        storage.Backend
	blobIndex    *blobindex.Index
	rateStore    ratelimit.Store
	auditManager *audit.Manager

	authSvc     *auth.Service
	vaultSvc    *vault.Service
	syncSvc     *syncengine.Service
	transferSvc *transfer.Service

	startTime time.Time
	version   string
	commit    string
	buildDate string
}

// New builds a Server from cfg: opens the Metadata Store, runs
// migrations, opens the Blob Store and Blob Index, and wires every
// domain service on top of them.
func New(cfg *config.Config) (*Server, error) {
	logger := logrus.StandardLogger()

	db, err := sql.Open("sqlite", cfg.DataDir+"/echopad.db")
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if err := migrations.NewMigrationManager(db, logger).Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	blobBackend, err := storage.NewBackend(storage.Config{
		Backend:    cfg.Storage.Backend,
		Root:       cfg.Storage.Root,
		S3Bucket:   cfg.Storage.S3Bucket,
		S3Region:   cfg.Storage.S3Region,
		S3Endpoint: cfg.Storage.S3Endpoint,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	blobIndex, err := blobindex.Open(blobindex.Options{
		DataDir: cfg.Storage.IndexDir,
		Logger:  logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open blob index: %w", err)
	}

	rateStore, err := newRateLimitStore(cfg)
	if err != nil {
		db.Close()
		blobIndex.Close()
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}
	limiter := ratelimit.New(rateStore)

	auditStore := audit.NewSQLiteStore(db, logger)
	auditManager := audit.NewManager(auditStore, logger)

	tokens := tokenservice.New(cfg.Auth.JWTSecret)

	authRepo := auth.NewRepository(db)
	authSvc := auth.New(authRepo, tokens, limiter, auditManager, logger, auth.Options{
		Issuer:      "echopad-sync",
		FreeBytes:   cfg.Quota.FreeBytes,
		ProBytes:    cfg.Quota.ProBytes,
		TeamBytes:   cfg.Quota.TeamBytes,
		LDAPConfig:  ldapConfigFrom(cfg),
		OAuthConfig: oauthConfigFrom(cfg),
	})

	vaultRepo := vault.NewRepository(db)
	fileRepo := syncengine.NewRepository(db)
	vaultSvc := vault.New(vaultRepo, fileRepo, blobBackend, auditManager, logger)
	syncSvc := syncengine.New(fileRepo, vaultSvc, blobBackend, blobIndex, authRepo, limiter, auditManager, logger)
	transferSvc := transfer.New(fileRepo, vaultSvc, blobBackend, blobIndex, authRepo, limiter, auditManager, logger)

	s := &Server{
		config:       cfg,
		db:           db,
		blobs:        blobBackend,
		blobIndex:    blobIndex,
		rateStore:    rateStore,
		auditManager: auditManager,
		authSvc:      authSvc,
		vaultSvc:     vaultSvc,
		syncSvc:      syncSvc,
		transferSvc:  transferSvc,
		startTime:    time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.buildRouter(tokens, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func newRateLimitStore(cfg *config.Config) (ratelimit.Store, error) {
	switch cfg.Auth.RateLimitStore {
	case "pebble":
		return ratelimit.NewPebbleStore(ratelimit.PebbleStoreOptions{
			DataDir: cfg.Auth.RateLimitDir,
			Logger:  logrus.StandardLogger(),
		})
	default:
		return ratelimit.NewMemoryStore(), nil
	}
}

func ldapConfigFrom(cfg *config.Config) *idp.LDAPConfig {
	if cfg.Auth.LDAPHost == "" {
		return nil
	}
	return &idp.LDAPConfig{
		Host:         cfg.Auth.LDAPHost,
		Port:         cfg.Auth.LDAPPort,
		BindDN:       cfg.Auth.LDAPBindDN,
		BindPassword: cfg.Auth.LDAPBindPass,
		BaseDN:       cfg.Auth.LDAPBaseDN,
		UserFilter:   cfg.Auth.LDAPUserFilter,
	}
}

func oauthConfigFrom(cfg *config.Config) *idp.GoogleOAuthConfig {
	if cfg.Auth.OAuthGoogleClientID == "" {
		return nil
	}
	return &idp.GoogleOAuthConfig{
		ClientID:     cfg.Auth.OAuthGoogleClientID,
		ClientSecret: cfg.Auth.OAuthGoogleClientSecret,
		RedirectURL:  cfg.Auth.OAuthGoogleRedirectURL,
	}
}

func (s *Server) buildRouter(tokens *tokenservice.Service, logger *logrus.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Logging())
	router.Use(metrics.InstrumentHTTP())

	handler := api.NewHandler(s.authSvc, s.vaultSvc, s.syncSvc, s.transferSvc, tokens, logger)
	handler.RegisterRoutes(router)

	return handlers.RecoveryHandler()(router)
}

// SetVersion records build information surfaced by the health endpoint.
func (s *Server) SetVersion(version, commit, date string) {
	s.version = version
	s.commit = commit
	s.buildDate = date
}

// Start runs the HTTP server and its background metrics samplers until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":  s.config.Listen,
		"data_dir": s.config.DataDir,
	}).Info("starting echopad sync server")

	metrics.NewHostSampler(logrus.StandardLogger()).Start(ctx, 15*time.Second)
	metrics.NewQuotaSampler(s.authSvc.QuotaUsageByTier, logrus.StandardLogger()).Start(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}
}

func (s *Server) shutdown() error {
	logrus.Info("shutting down echopad sync server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("failed to shut down http server")
	}

	if err := s.auditManager.Close(); err != nil {
		logrus.WithError(err).Error("failed to close audit manager")
	}

	if err := s.rateStore.Close(); err != nil {
		logrus.WithError(err).Error("failed to close rate limit store")
	}

	if err := s.blobIndex.Close(); err != nil {
		logrus.WithError(err).Error("failed to close blob index")
	}

	if err := s.blobs.Close(); err != nil {
		logrus.WithError(err).Error("failed to close blob store")
	}

	if err := s.db.Close(); err != nil {
		logrus.WithError(err).Error("failed to close metadata store")
	}

	return nil
}
