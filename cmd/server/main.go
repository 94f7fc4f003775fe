package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/pressroom/internal/api"
	"github.com/lalith-99/pressroom/internal/auth"
	"github.com/lalith-99/pressroom/internal/chat"
	"github.com/lalith-99/pressroom/internal/config"
	"github.com/lalith-99/pressroom/internal/db"
	"github.com/lalith-99/pressroom/internal/gateway"
	"github.com/lalith-99/pressroom/internal/notify"
	"github.com/lalith-99/pressroom/internal/observ"
	"github.com/lalith-99/pressroom/internal/presence"
	"github.com/lalith-99/pressroom/internal/repository"
	"github.com/lalith-99/pressroom/internal/repository/memory"
	"github.com/lalith-99/pressroom/internal/repository/postgres"
	"github.com/lalith-99/pressroom/internal/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pressroom",
		Short: "Realtime messaging and notifications for the print shop",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("port", defaults.GetString("http.port"), "HTTP listen port")
	flags.String("store", defaults.GetString("store.driver"), "Store driver (postgres, memory)")
	flags.String("database-url", defaults.GetString("database.url"), "Postgres connection URL")
	flags.String("redis-url", defaults.GetString("redis.url"), "Redis URL; enables logout and multi-node routing")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.port", "port")
	bindFlag(cmd, "store.driver", "store")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

// stores is the set of repositories the services run on.
type stores struct {
	users         repository.UserRepository
	orders        repository.OrderDirectory
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	health        func(context.Context) error
}

func run(ctx context.Context) error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Store
	// ---------------------------------------------------------------
	var st stores
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using the in-memory store; nothing survives a restart")
		mem := memory.New()
		st = stores{
			users:         mem,
			orders:        mem,
			messages:      mem,
			notifications: mem.Notifications(),
			health:        func(context.Context) error { return nil },
		}
	default:
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		pool := database.Pool()
		st = stores{
			users:         postgres.NewUserStore(pool),
			orders:        postgres.NewOrderStore(pool),
			messages:      postgres.NewMessageStore(pool),
			notifications: postgres.NewNotificationStore(pool),
			health:        database.Health,
		}
	}

	// ---------------------------------------------------------------
	// 3. Redis (optional)
	//
	// Without it logout is a no-op server side and realtime events only
	// reach connections on this node.
	// ---------------------------------------------------------------
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
	}

	// ---------------------------------------------------------------
	// 4. Realtime core
	// ---------------------------------------------------------------
	reg := presence.NewRegistry()
	local := router.NewLocal(reg, logger)

	var (
		rt          router.Router    = local
		revocations auth.Revocations = auth.NoRevocations{}
		bus         *router.Bus
	)
	if rdb != nil {
		bus = router.NewBus(rdb, router.DefaultBusChannel, local, logger)
		go func() {
			if err := bus.Run(ctx); err != nil {
				logger.Error("event bus stopped", zap.Error(err))
			}
		}()
		rt = bus
		revocations = auth.NewRedisRevocations(rdb)
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	authenticator := auth.NewAuthenticator(tokens, revocations, st.users)

	chatSvc := chat.NewService(st.messages, st.orders, rt, reg, logger)
	dispatcher := notify.NewDispatcher(st.notifications, st.users, rt, reg, logger)
	gw := gateway.New(authenticator, reg, chatSvc, cfg.WS, logger)

	if _, err := dispatcher.PurgeRead(ctx, cfg.NotificationRetentionDays); err != nil {
		logger.Warn("startup purge failed", zap.Error(err))
	}

	// ---------------------------------------------------------------
	// 5. HTTP
	// ---------------------------------------------------------------
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(observ.GinLogger(logger), gin.Recovery())

	engine.GET("/v1/health", func(c *gin.Context) {
		if err := st.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		body := gin.H{"status": "ok", "connections": reg.Len()}
		if bus != nil {
			body["bus_subscribed"] = bus.Subscribed()
		}
		c.JSON(http.StatusOK, body)
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/v1/ws", gw.Handle)

	api.Register(engine, authenticator, api.Handlers{
		Auth:          api.NewAuthHandler(st.users, tokens, revocations, logger),
		Users:         api.NewUserHandler(st.users, reg, logger),
		Messages:      api.NewMessageHandler(chatSvc, logger),
		Notifications: api.NewNotificationHandler(dispatcher, logger),
		Admin:         api.NewAdminHandler(dispatcher, reg, cfg.NotificationRetentionDays, logger),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting pressroom",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreDriver),
			zap.Bool("redis", rdb != nil),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ---------------------------------------------------------------
	// 6. Shutdown
	//
	// Websockets are hijacked, so http.Server.Shutdown does not wait for
	// them. Close them explicitly first.
	// ---------------------------------------------------------------
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	gw.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
