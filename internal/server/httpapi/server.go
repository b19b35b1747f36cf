// Package httpapi serves the sync protocol over HTTP:
//
//	GET    /status[?since=<unix seconds>]  items of the caller
//	PUT    /status                         upsert a JSON array of items
//	POST   /status                         same as PUT
//	DELETE /status                         delete a JSON array of ids
//	GET    /shards                         shard statistics of the caller
//	POST   /register                       create a user
//	GET    /health                         backend reachability
//
// Everything but /register and /health requires HTTP Digest credentials.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/synk/internal/logging"
	"github.com/dmitrijs2005/synk/internal/server/engine"
	"github.com/dmitrijs2005/synk/internal/server/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 32 << 20
)

// Coordinator is the sync engine as seen by the handlers.
type Coordinator interface {
	FetchAll(ctx context.Context, owner string) ([]models.Item, error)
	FetchSince(ctx context.Context, owner string, since int64) ([]models.Item, error)
	UpsertBatch(ctx context.Context, owner string, raw []byte) (added, updated int, err error)
	DeleteBatch(ctx context.Context, owner string, raw []byte) (int, error)
	Stats(ctx context.Context, owner string) ([]engine.ShardStat, error)
}

type Registrar interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
}

// Authenticator issues digest challenges and verifies Authorization headers.
type Authenticator interface {
	Challenge(stale bool) (string, error)
	Authenticate(ctx context.Context, method, path, header string) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	address string
	sync    Coordinator
	users   Registrar
	auth    Authenticator
	pinger  Pinger
	logger  logging.Logger
}

func NewServer(a string, l logging.Logger, c Coordinator, u Registrar, auth Authenticator, p Pinger) *Server {
	return &Server{
		address: a,
		sync:    c,
		users:   u,
		auth:    auth,
		pinger:  p,
		logger:  l.With("module", "http_server"),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusNotFound, NewErrorResponse("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusMethodNotAllowed, NewErrorResponse("method not allowed"))
	})

	r.Get("/health", s.handleHealth)
	r.Post("/register", s.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(s.requireDigest)

		r.Get("/status", s.handleFetch)
		r.Put("/status", s.handleUpsert)
		r.Post("/status", s.handleUpsert)
		r.Delete("/status", s.handleDelete)
		r.Get("/shards", s.handleShards)
		r.Get("/account/test", s.handleAccountTest)
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *Server) serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
