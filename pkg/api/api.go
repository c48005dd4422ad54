package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/auth"
	"github.com/ethpandaops/gymdesk/pkg/config"
	"github.com/ethpandaops/gymdesk/pkg/kv"
	"github.com/ethpandaops/gymdesk/pkg/ratelimit"
	"github.com/ethpandaops/gymdesk/pkg/upload"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout      = 10 * time.Second
	housekeepingInterval = 15 * time.Minute
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	counters   kv.Store
	auth       *auth.Authenticator
	limiter    *ratelimit.Limiter
	uploader   upload.Uploader
	maxUpload  int64
	now        func() time.Time
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return newServer(log, cfg)
}

func newServer(log logrus.FieldLogger, cfg *config.Config) *server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// Start initializes the store and auth services, then starts the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(housekeepingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.housekeeping(ctx)
			case <-s.done:
				return
			}
		}
	}()

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// setup opens the store, bootstraps the admin and wires the auth, rate
// limiting and upload components.
func (s *server) setup(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if boot := s.cfg.Auth.Bootstrap; boot.Username != "" {
		if _, err := s.store.EnsureAdmin(ctx, store.AdminSeed{
			Username:    auth.SanitizeUsername(boot.Username),
			Password:    boot.Password,
			RecoveryKey: boot.RecoveryKey,
		}); err != nil {
			return fmt.Errorf("bootstrapping admin: %w", err)
		}
	}

	counters, err := kv.NewSQLStore(ctx, s.store.DB(), s.now)
	if err != nil {
		// Without the shared table, counters and CSRF tokens stay local
		// to this process.
		s.log.WithError(err).Warn("Shared counter store unavailable, using in-memory store")

		counters = kv.NewMemoryStore(s.now)
	}

	s.counters = counters
	s.limiter = ratelimit.New(s.log, counters, kv.NewMemoryStore(s.now))

	s.auth = auth.NewAuthenticator(
		s.log,
		s.store,
		auth.NewTokenIssuer(s.cfg.Auth.TokenSecret, s.cfg.Auth.SessionDuration(), s.now),
		auth.NewCSRFService(counters, s.cfg.Auth.CSRFDuration()),
		s.cfg.Auth.RecoveryDelayDuration(),
	)

	s.maxUpload, err = s.cfg.Storage.MaxUploadBytes()
	if err != nil {
		return err
	}

	uploader, err := upload.New(s.log, &s.cfg.Storage)

	switch {
	case errors.Is(err, upload.ErrDisabled):
		s.log.Info("Upload storage not configured, uploads disabled")
	case err != nil:
		return fmt.Errorf("creating uploader: %w", err)
	default:
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("upload storage preflight: %w", err)
		}

		s.uploader = uploader
	}

	return nil
}

// housekeeping evicts expired counters and CSRF tokens.
func (s *server) housekeeping(ctx context.Context) {
	removed, err := s.counters.DeleteExpired(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to clean expired counters")
	}

	removed += s.limiter.Purge(ctx)

	if removed > 0 {
		s.log.WithField("removed", removed).Debug("Evicted expired entries")
	}
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
