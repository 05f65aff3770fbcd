package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/llvm/lnt/pkg/api/query"
	"github.com/llvm/lnt/pkg/api/store"
	"github.com/llvm/lnt/pkg/config"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

// database is one configured LNT database with its query service.
type database struct {
	name  string
	store store.Store
	query *query.Service
}

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	version    string
	databases  map[string]*database
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server. version is reported in the
// generated_by field of every response.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	version string,
) Server {
	return &server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		version:   version,
		databases: make(map[string]*database, len(cfg.Databases)),
		done:      make(chan struct{}),
	}
}

// Start opens every configured database and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.openDatabases(ctx); err != nil {
		return err
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			WithField("databases", len(s.databases)).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// openDatabases connects and migrates every configured database.
func (s *server) openDatabases(ctx context.Context) error {
	names := make([]string, 0, len(s.cfg.Databases))
	for name := range s.cfg.Databases {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		suites, err := s.cfg.DatabaseSuites(name)
		if err != nil {
			return fmt.Errorf("database %s: %w", name, err)
		}

		st := store.NewStore(
			s.log.WithField("database", name), s.cfg.Databases[name], suites,
		)

		if err := st.Start(ctx); err != nil {
			return fmt.Errorf("starting database %s: %w", name, err)
		}

		s.databases[name] = &database{
			name:  name,
			store: st,
			query: query.NewService(st, s.version),
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the databases.
func (s *server) Stop() error {
	close(s.done)

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

	var firstErr error

	for name, db := range s.databases {
		if err := db.store.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping database %s: %w", name, err)
		}
	}

	if firstErr != nil {
		return firstErr
	}

	s.log.Info("API server stopped")

	return nil
}
