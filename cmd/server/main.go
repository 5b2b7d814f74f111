package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/execution-hub/commission-hub/internal/api/http"
	appAudit "github.com/execution-hub/commission-hub/internal/application/audit"
	appAuth "github.com/execution-hub/commission-hub/internal/application/auth"
	appNegotiation "github.com/execution-hub/commission-hub/internal/application/negotiation"
	appUser "github.com/execution-hub/commission-hub/internal/application/user"
	"github.com/execution-hub/commission-hub/internal/config"
	"github.com/execution-hub/commission-hub/internal/domain/audit"
	"github.com/execution-hub/commission-hub/internal/domain/catalog"
	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
	"github.com/execution-hub/commission-hub/internal/domain/session"
	"github.com/execution-hub/commission-hub/internal/domain/user"
	"github.com/execution-hub/commission-hub/internal/infrastructure/memory"
	"github.com/execution-hub/commission-hub/internal/infrastructure/postgres"
	"github.com/execution-hub/commission-hub/internal/infrastructure/sse"
)

type repositories struct {
	negotiations negotiation.Repository
	tx           negotiation.Transactor
	services     catalog.ServiceRepository
	orders       catalog.OrderRepository
	users        user.Repository
	sessions     session.Repository
	audit        audit.Repository
	close        func()
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", "commission-hub").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	ctx := context.Background()
	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("storage error")
	}
	defer repos.close()

	// infrastructure
	sseHub := sse.NewHub()

	// services
	auditSvc := appAudit.NewService(repos.audit, logger, cfg.AuditSigningKey)
	userSvc := appUser.NewService(repos.users, auditSvc, logger)
	authSvc := appAuth.NewService(repos.users, repos.sessions, cfg.SessionTTL, auditSvc, logger)
	negotiationSvc := appNegotiation.NewService(repos.negotiations, repos.tx, repos.services, repos.orders, sseHub, auditSvc, logger)

	// API server
	apiServer := httpapi.NewServer(negotiationSvc, auditSvc, authSvc, userSvc, repos.services, repos.orders, sseHub, httpapi.Options{
		SessionCookieName:   cfg.SessionCookieName,
		SessionCookieSecure: cfg.SessionCookieSecure,
		DefaultPageLimit:    cfg.DefaultPageLimit,
		MaxPageLimit:        cfg.MaxPageLimit,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open; handlers carry their own timeouts
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	loopCtx, stopLoops := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				n, err := repos.sessions.DeleteExpired(loopCtx)
				if err != nil {
					logger.Warn().Err(err).Msg("session cleanup failed")
					continue
				}
				if n > 0 {
					logger.Debug().Int("deleted", n).Msg("expired sessions removed")
				}
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("driver", cfg.StorageDriver).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")
	stopLoops()
	sseHub.Stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	auditSvc.Flush()
}

func openRepositories(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*repositories, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		negotiations := memory.NewNegotiationRepository()
		services := memory.NewServiceRepository()
		return &repositories{
			negotiations: negotiations,
			tx:           memory.NewTransactor(negotiations, services),
			services:     services,
			orders:       memory.NewOrderRepository(),
			users:        memory.NewUserRepository(),
			sessions:     memory.NewSessionRepository(),
			audit:        memory.NewAuditRepository(),
			close:        func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &repositories{
		negotiations: postgres.NewNegotiationRepository(pool),
		tx:           postgres.NewTxManager(pool),
		services:     postgres.NewServiceRepository(pool),
		orders:       postgres.NewOrderRepository(pool),
		users:        postgres.NewUserRepository(pool),
		sessions:     postgres.NewSessionRepository(pool),
		audit:        postgres.NewAuditRepository(pool),
		close:        pool.Close,
	}, nil
}
