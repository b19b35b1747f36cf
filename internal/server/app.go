// Package server wires storage, authentication and the sync engine together
// and runs the HTTP API and the gRPC health service until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/synk/internal/logging"
	"github.com/dmitrijs2005/synk/internal/server/auth"
	"github.com/dmitrijs2005/synk/internal/server/config"
	"github.com/dmitrijs2005/synk/internal/server/engine"
	"github.com/dmitrijs2005/synk/internal/server/httpapi"
	"github.com/dmitrijs2005/synk/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/synk/internal/server/repositories/shards"
	"github.com/dmitrijs2005/synk/internal/server/repositories/users"
	"github.com/dmitrijs2005/synk/internal/server/services"

	gs "github.com/dmitrijs2005/synk/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	storage     *storage
	userService *services.UserService
	coordinator *engine.Coordinator
	digest      *auth.Digest
}

type storage struct {
	shards shards.Repository
	users  users.Repository
	close  func() error
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	return newApp(ctx, c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	st, err := openStorage(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	us := services.NewUserService(st.users, c.Realm)

	coord, err := engine.NewCoordinator(st.shards, c.Engine(), logger)
	if err != nil {
		_ = st.close()
		return nil, err
	}

	nonces := auth.NewNonceIssuer([]byte(c.NonceSecret), c.NonceValidity)
	seen := auth.NewNonceCache(c.NonceCacheSize, c.NonceValidity)
	d := auth.NewDigest(c.Realm, nonces, seen, us)

	return &App{
		config:      c,
		logger:      logger,
		storage:     st,
		userService: us,
		coordinator: coord,
		digest:      d,
	}, nil
}

func openStorage(ctx context.Context, c *config.Config) (*storage, error) {
	switch c.Backend {
	case config.BackendMemory:
		return &storage{
			shards: shards.NewMemoryRepository(),
			users:  users.NewMemoryRepository(),
			close:  func() error { return nil },
		}, nil

	case config.BackendPostgres:
		db, err := openPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		rm := repomanager.NewPostgresRepositoryManager()
		return &storage{shards: rm.Shards(db), users: rm.Users(db), close: db.Close}, nil

	case config.BackendS3:
		repo, err := shards.NewS3Repository(ctx, shards.S3Config{
			Region:   c.S3Region,
			User:     c.S3User,
			Password: c.S3Password,
			Bucket:   c.S3Bucket,
			Endpoint: c.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		st := &storage{shards: repo, users: users.NewMemoryRepository(), close: func() error { return nil }}
		if c.DatabaseDSN != "" {
			db, err := openPostgres(ctx, c.DatabaseDSN)
			if err != nil {
				return nil, err
			}
			st.users = repomanager.NewPostgresRepositoryManager().Users(db)
			st.close = db.Close
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := repomanager.NewPostgresRepositoryManager().RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}
	return db, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.HTTPAddr, app.logger, app.coordinator, app.userService, app.digest, app.storage.shards)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.GRPCAddr, app.logger, app.storage.shards, app.config.HealthInterval)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled, a signal arrives or a server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", app.config.Backend)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.storage.close(); err != nil {
		app.logger.Error(ctx, "storage close error", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped", "at", time.Now().UTC())
}
