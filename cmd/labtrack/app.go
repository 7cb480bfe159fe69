package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/labtrack/internal/db"
	"github.com/nkiryanov/labtrack/internal/events"
	"github.com/nkiryanov/labtrack/internal/handlers"
	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/metrics"
	"github.com/nkiryanov/labtrack/internal/repository/postgres"
	"github.com/nkiryanov/labtrack/internal/service/auth"
	"github.com/nkiryanov/labtrack/internal/service/auth/accesstoken"
	"github.com/nkiryanov/labtrack/internal/service/auth/refreshtoken"
	"github.com/nkiryanov/labtrack/internal/service/sweeper"
	"github.com/nkiryanov/labtrack/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	sweeper *sweeper.Sweeper
	pool    *pgxpool.Pool
	kafka   *events.KafkaPublisher
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger, pool: pool}

	// Audit events go to kafka only if brokers configured
	var publisher events.Publisher = events.Nop{}
	if len(c.KafkaBrokers) > 0 {
		app.kafka = events.NewKafkaPublisher(c.KafkaBrokers, c.KafkaTopic, logger)
		publisher = app.kafka
	}

	m := metrics.New()
	storage := postgres.NewStorage(pool)

	// Initialize services
	codec, err := accesstoken.New(accesstoken.Config{SecretKey: c.SecretKey, AccessTTL: c.AccessTTL})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating access token codec. Err: %w", err)
	}
	store, err := refreshtoken.New(refreshtoken.Config{RefreshTTL: c.RefreshTTL}, storage.Refresh())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating refresh token store. Err: %w", err)
	}
	userService := user.NewService(user.Config{Events: publisher, Logger: logger}, storage)
	authService, err := auth.NewService(auth.Config{Events: publisher, Logger: logger, Metrics: m}, codec, store, userService)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.sweeper, err = sweeper.New(c.SweepSchedule, store, m, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating sweeper. Err: %w", err)
	}

	app.Handler = handlers.NewRouter(authService, userService, logger, handlers.Options{
		Debug:          c.Debug(),
		LoginRateLimit: c.LoginRateLimit,
		Metrics:        m,
		Pinger:         pool,
	})

	return app, nil
}

// Run starts http server and sweeper, closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.sweeper.Start()

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.sweeper.Stop(timeoutCtx)
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}

// Close releases connections, should be called after Run returned
func (s *ServerApp) Close() {
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("kafka writer not closed", "error", err)
		}
	}
	s.pool.Close()
}
