package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oreon-chat/oreon/internal/api"
	"github.com/oreon-chat/oreon/internal/auth"
	"github.com/oreon-chat/oreon/internal/chat"
	"github.com/oreon-chat/oreon/internal/config"
	"github.com/oreon-chat/oreon/internal/database"
	"github.com/oreon-chat/oreon/internal/logging"
	"github.com/oreon-chat/oreon/internal/server"
	"github.com/oreon-chat/oreon/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

var (
	addr           string
	dbDriver       string
	dsn            string
	signingKey     string
	allowedOrigins string
	env            string
	tokenTTL       time.Duration
	tokenLeeway    time.Duration
	bcryptCost     int
	storageTimeout time.Duration
	storageRetries int
	publishRate    float64
	publishBurst   int
	migrateSchema  bool
	adminUser      string
	adminPassword  string
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dbDriver, "db-driver", "postgres", "database driver: postgres, pgx or memory")
	flag.StringVar(&dsn, "db-dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&allowedOrigins, "allowed-origins", "", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&env, "env", "production", "environment name; dev enables console logging")
	flag.DurationVar(&tokenTTL, "token-ttl", auth.DefaultTokenTTL, "lifetime of issued tokens")
	flag.DurationVar(&tokenLeeway, "token-leeway", auth.DefaultTokenLeeway, "clock skew tolerated on token expiry")
	flag.IntVar(&bcryptCost, "bcrypt-cost", 10, "bcrypt work factor")
	flag.DurationVar(&storageTimeout, "storage-timeout", 5*time.Second, "timeout of a single storage call")
	flag.IntVar(&storageRetries, "storage-retries", 3, "attempts for idempotent storage calls")
	flag.Float64Var(&publishRate, "publish-rate", 5, "messages per second allowed per websocket session")
	flag.IntVar(&publishBurst, "publish-burst", 10, "message burst allowed per websocket session")
	flag.BoolVar(&migrateSchema, "migrate", true, "apply schema migrations on startup")
	flag.StringVar(&adminUser, "admin-user", "", "create this superuser when none exists")
	flag.StringVar(&adminPassword, "admin-password", "", "password for -admin-user")
	flag.Parse()

	logger := logging.New(env, os.Stderr)

	if err := config.ApplyEnv(flag.CommandLine); err != nil {
		logger.Fatal().Err(err).Msg("environment")
	}
	// env may have changed above
	logger = logging.New(env, os.Stderr)

	cfg, err := config.NewConfig(addr, dbDriver, dsn, signingKey, config.SplitList(allowedOrigins))
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	cfg.Env = env
	cfg.TokenTTL = tokenTTL
	cfg.TokenLeeway = tokenLeeway
	cfg.BcryptCost = bcryptCost
	cfg.StorageTimeout = storageTimeout
	cfg.StorageRetries = storageRetries
	cfg.PublishRate = publishRate
	cfg.PublishBurst = publishBurst
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	var repo database.Repository
	if cfg.DatabaseDriver == "memory" {
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
		repo = database.NewMemoryRepository()
	} else {
		pg, err := database.NewPgRepository(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("db open")
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Error().Err(err).Msg("db close")
			}
		}()

		if migrateSchema {
			if err := pg.Migrate(); err != nil {
				logger.Fatal().Err(err).Msg("db migrate")
			}
		}
		repo = pg
	}

	retry := database.DefaultRetryPolicy()
	retry.Attempts = cfg.StorageRetries
	retry.Timeout = cfg.StorageTimeout

	tokens, err := auth.NewTokenService(cfg.SigningKey, cfg.TokenTTL, auth.WithLeeway(cfg.TokenLeeway))
	if err != nil {
		logger.Fatal().Err(err).Msg("token service")
	}
	users := auth.NewUserService(repo, auth.NewPasswordHasher(cfg.BcryptCost), tokens, retry, logger)
	gate := auth.NewGate(repo, tokens, retry)

	if adminUser != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		u, created, err := users.Bootstrap(ctx, adminUser, adminPassword)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("bootstrap superuser")
		}
		if created {
			logger.Info().Int("user_id", u.Id).Str("username", u.Username).Msg("created superuser")
		}
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	registry := server.NewRegistry()
	rooms := chat.NewRoomManager(repo, retry, server.NewBroadcaster(registry, statsUpdater, logger), logger)
	messages := chat.NewMessageService(rooms)
	chatServer := server.NewChatServer(logger, registry, gate, messages, statsUpdater, cfg.PublishRate, cfg.PublishBurst)

	srv := api.NewGoChatApp(mux, logger, api.Services{
		Repo:     repo,
		Users:    users,
		Gate:     gate,
		Rooms:    rooms,
		Messages: messages,
		Chat:     chatServer,
		Stats:    statsUpdater,
	}, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
