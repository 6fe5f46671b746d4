package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/reconnect"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport/poll"
	"github.com/matheus3301/chatsync/internal/transport/push"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved conversation configuration passed to the fx module.
type Params struct {
	ConversationID string
	Config         *config.Config
	LogLevel       zapcore.Level
	SocketPath     string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideSynchronizer,
			provideCollector,
			provideRenderer,
			provideHandler,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.ConversationID), p.ConversationID, p.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(p.ConversationID); err != nil {
		return nil, err
	}
	logger.Info("acquiring conversation lock")
	l, err := lock.Acquire(paths.Dir(p.ConversationID), p.ConversationID)
	if err != nil {
		return nil, err
	}
	logger.Info("conversation lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.ConversationID)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSynchronizer(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) (*chatsync.Synchronizer, error) {
	cfg := p.Config
	strategy, err := outbox.ParseStrategy(cfg.SendStrategy)
	if err != nil {
		return nil, err
	}
	opts := chatsync.Options{
		ConversationID: p.ConversationID,
		Mode:           chatsync.Mode(cfg.Transport),
		PollInterval:   cfg.PollInterval.Duration,
		Policy:         reconnect.Policy{MaxAttempts: cfg.MaxAttempts, Unit: cfg.BackoffUnit.Duration},
		SendStrategy:   strategy,
		StrictStatus:   cfg.StrictStatus,
		Store:          db,
		Bus:            b,
		Logger:         logger,
	}

	switch opts.Mode {
	case chatsync.ModePoll:
		client, err := poll.NewClient(cfg.BaseURL, poll.Credentials{
			CSRFToken:     cfg.CSRFToken,
			SessionCookie: cfg.SessionCookie,
		}, poll.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		opts.Fetcher = client
		opts.Sender = client
	case chatsync.ModePush:
		d := push.NewDialer(cfg.PushURLTemplate(), cfg.CSRFToken, cfg.SessionCookie, logger)
		opts.Dial = chatsync.DialerFunc(d, p.ConversationID)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return chatsync.New(opts)
}

func provideCollector(p Params, b *bus.Bus) *metrics.Collector {
	return metrics.New(p.ConversationID, b)
}

func provideRenderer(b *bus.Bus, logger *zap.Logger) *Renderer {
	return NewRenderer(b, logger)
}

func provideHandler(s *chatsync.Synchronizer, db *store.DB, logger *zap.Logger) *api.Handler {
	return api.NewHandler(s, db, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	metricsSrv *MetricsServer,
	lk *lock.Lock,
	db *store.DB,
	s *chatsync.Synchronizer,
	collector *metrics.Collector,
	renderer *Renderer,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first, so hydration and the first fetch are seen.
			collector.Start(context.Background())
			renderer.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()
			go func() {
				if err := metricsSrv.Start(); err != nil {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()

			if err := s.Start(context.Background()); err != nil {
				return fmt.Errorf("start synchronizer: %w", err)
			}
			logger.Info("daemon started", zap.String("mode", string(s.Mode())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			srv.Stop(ctx)
			metricsSrv.Stop(ctx)
			renderer.Stop()
			collector.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
