package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lendkey/accessbot/internal/accessbot"
	"github.com/lendkey/accessbot/internal/audit"
	"github.com/lendkey/accessbot/internal/autoapprove"
	"github.com/lendkey/accessbot/internal/bot"
	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/directory"
	"github.com/lendkey/accessbot/internal/gateway"
	"github.com/lendkey/accessbot/internal/metrics"
	"github.com/lendkey/accessbot/internal/state"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the accessbot server",
		RunE:  runServer,
	}
}

// server holds every long-running component of `accessbot run`.
type server struct {
	channels *channel.Manager
	engine   *accessbot.Engine
	router   *bot.Router
	gateway  *gateway.Server
	closers  []func() error
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	srv, err := newServer(ctx, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer srv.close()

	if len(srv.channels.Names()) == 0 {
		slog.Warn("no chat channels enabled; run 'accessbot channels enable <name>'")
	}
	if srv.gateway != nil {
		fmt.Printf("accessbot running. Gateway: http://%s\nPress Ctrl+C to stop.\n", srv.gateway.Addr())
	} else {
		fmt.Println("accessbot running. Press Ctrl+C to stop.")
	}

	return srv.run(ctx)
}

func newServer(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*server, error) {
	logger := slog.Default()
	msgBus := bus.NewMessageBus(100)
	recorder := metrics.New(reg, cfg.Persistence.Dir)

	chanMgr := channel.NewManager(msgBus)
	chanMgr.SetMetrics(recorder)
	registerEnabledChannels(cfg, msgBus, chanMgr)

	persister, closePersister, err := newPersister(ctx, cfg.Persistence)
	if err != nil {
		return nil, err
	}

	notifier := bot.NewNotifier(cfg.Bot, msgBus, chanMgr, logger)
	engine := accessbot.New(accessbot.Options{
		Bot:       cfg.Bot,
		Sweeper:   cfg.Sweeper,
		Directory: directory.NewStatic(cfg.Directory),
		Admins:    bot.NewAdmins(cfg.Bot, chanMgr, logger),
		Notifier:  notifier,
		Prompter:  notifier,
		Persister: persister,
		Metrics:   recorder,
		Audit:     audit.NewWriter(cfg.Persistence.Dir),
		Logger:    logger,
	})

	srv := &server{
		channels: chanMgr,
		engine:   engine,
		router:   bot.NewRouter(cfg.Bot, msgBus, chanMgr, engine, recorder, logger),
	}
	if closePersister != nil {
		srv.closers = append(srv.closers, closePersister)
	}
	if cfg.Gateway.Enabled {
		srv.gateway = gateway.New(cfg.Gateway, engine, gatherer)
	}
	return srv, nil
}

// run blocks until ctx is done or a component fails.
func (s *server) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.engine.Run(gctx); err != nil {
			return fmt.Errorf("engine failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.router.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("bot router failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.channels.StartAll(gctx)
		s.channels.RouteOutbound(gctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("stopping channels")
		s.channels.StopAll(shutdownCtx)
		return nil
	})
	if s.gateway != nil {
		g.Go(func() error {
			if err := s.gateway.Run(gctx); err != nil {
				return fmt.Errorf("gateway server failed: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		slog.Error("server component failed", "error", err)
	}
	slog.Info("shut down")
	return err
}

func (s *server) close() {
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

// newPersister selects where auto-approve counters are snapshotted. The
// returned close func may be nil.
func newPersister(ctx context.Context, cfg config.PersistenceConfig) (autoapprove.Persister, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "none":
		return nil, nil, nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := state.NewRedisClient(dialCtx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return state.NewRedisStore(client, cfg.Redis.Key), client.Close, nil
	default:
		return state.NewManager(cfg.Dir), nil, nil
	}
}
