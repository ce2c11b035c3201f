package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"riakmaw/internal/bot"
	"riakmaw/internal/config"
	"riakmaw/internal/domain"
	"riakmaw/internal/feature/admins"
	"riakmaw/internal/feature/core"
	"riakmaw/internal/feature/language"
	"riakmaw/internal/feature/stats"
	"riakmaw/internal/feature/users"
	"riakmaw/internal/health"
	"riakmaw/internal/i18n"
	"riakmaw/internal/logging"
	"riakmaw/internal/staff"
	"riakmaw/internal/store"
	"riakmaw/internal/telegram"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	ownerBootstrapTimeout  = 5 * time.Second
	pluginLoadTimeout      = 30 * time.Second
	healthShutdownTimeout  = 5 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configOnly bool

	cmd := &cobra.Command{
		Use:           "riakmaw",
		Short:         "Run the riakmaw Telegram group management bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := run(cmd.Context(), configOnly)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "load and print configuration then exit")

	return cmd
}

func run(ctx context.Context, configOnly bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		return fmt.Errorf("logger setup error: %w", err)
	}

	if configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return nil
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		return fmt.Errorf("mongo connection error: %w", err)
	}
	defer closeMongo(mongoManager, logger)

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(ctx, mongoIndexTimeout)
	err = mongoManager.EnsureBaseIndexes(indexCtx)
	cancelIndexes()
	if err != nil {
		logger.WithError(err).Error("mongo index setup error")
		return fmt.Errorf("mongo index setup error: %w", err)
	}

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	staffRegistrar := staff.NewRegistrar(mongoManager.Staff(), logger)
	ownerCtx, cancelOwner := context.WithTimeout(ctx, ownerBootstrapTimeout)
	err = staffRegistrar.EnsureOwner(ownerCtx, cfg.BotOwnerID)
	cancelOwner()
	if err != nil {
		logging.WithContext(logging.Context{
			UserID: cfg.BotOwnerID,
			Event:  "owner_bootstrap_error",
		}).WithError(err).Error("owner bootstrap error")
		return fmt.Errorf("owner bootstrap error: %w", err)
	}

	registry := staff.NewRegistry(cfg.BotOwnerID, domain.NewStaffRepository(mongoManager.Staff()))

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		return fmt.Errorf("telegram client setup error: %w", err)
	}
	sender := tgClient.Sender()

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	b, err := bot.New(bot.Deps{
		Config: cfg,
		Logger: logger,
		Sender: sender,
		Poller: tgClient,
		Staff:  registry,
	})
	if err != nil {
		logger.WithError(err).Error("bot setup error")
		return fmt.Errorf("bot setup error: %w", err)
	}

	catalog, err := i18n.Load()
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	lang := language.New(mongoManager.Languages(), sender, catalog, logger)
	userRegistrar := users.NewRegistrar(mongoManager.Users(), mongoManager.Chats(), logger)

	loadCtx, cancelLoad := context.WithTimeout(ctx, pluginLoadTimeout)
	err = b.LoadPlugins(loadCtx,
		lang,
		core.New(b.Plugins(), sender, lang),
		stats.New(mongoManager.Stats(), store.NewStatsProvider(mongoManager.Users(), mongoManager.Chats()), registry, lang, logger),
		users.New(userRegistrar, domain.NewUserRepository(mongoManager.Users()), sender, lang, logger),
		admins.New(sender, registry, staffRegistrar, lang, logger),
	)
	cancelLoad()
	if err != nil {
		logger.WithError(err).Error("plugin load error")
		return fmt.Errorf("plugin load error: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, b, logger)

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		if err := b.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
			return errors.New("telegram polling stopped unexpectedly")
		}
		return nil
	})
	g.Go(func() error {
		return healthServer.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()

		if signalCtx.Err() != nil {
			logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping bot")
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), healthShutdownTimeout)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("health server shutdown error", logging.Fields{"event": "health_shutdown_error", "error": err})
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("bot stopped with error")
		return err
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
	return nil
}

func closeMongo(m *store.Manager, logger *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()

	if err := m.Close(ctx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
		return
	}
	logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
}
