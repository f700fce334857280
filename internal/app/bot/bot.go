// Package bot собирает основное приложение: long polling Telegram,
// HTTP-сервер с платежным вебхуком и операторскими ручками, хранилище,
// кеш и издателя уведомлений.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	tgbot "github.com/betrezv/trezv-club-bot/internal/bot"
	"github.com/betrezv/trezv-club-bot/internal/cache"
	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/lib/jwt"
	"github.com/betrezv/trezv-club-bot/internal/migrations"
	"github.com/betrezv/trezv-club-bot/internal/rabbitmq"
	interactionservice "github.com/betrezv/trezv-club-bot/internal/services/interaction"
	membershipservice "github.com/betrezv/trezv-club-bot/internal/services/membership"
	schedulerservice "github.com/betrezv/trezv-club-bot/internal/services/scheduler"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
	"github.com/betrezv/trezv-club-bot/internal/telegram"
)

// bridgeTTL время жизни открытого диалога в личке.
const bridgeTTL = 30 * time.Minute

// App основное приложение клуба.
type App struct {
	server  *http.Server
	handler *tgbot.Handler
	bridge  *tgbot.Bridge
	conn    *amqp.Connection
	ch      *amqp.Channel
	db      *repository.Storage
	logger  *slog.Logger
}

// New собирает приложение из конфигурации.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNoticeQueues())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tg, err := telegram.New(cfg.Telegram, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	membershipService := membershipservice.New(logger, db, cacheRedis, cfg.Membership)
	interactionService := interactionservice.New(logger, db, db, membershipService, tg,
		cfg.Telegram, cfg.Membership)
	schedulerService := schedulerservice.New(logger, db, interactionService, membershipService,
		tg, rabbitmq.NewNoticeBroker(ch), cfg.Sweeps)

	bridge := tgbot.NewBridge(bridgeTTL)
	handler := tgbot.NewHandler(logger, tg, db, membershipService, interactionService, bridge, cfg)

	jwtMaker := jwt.NewJWTMaker(cfg.OperatorToken.JWTSecretKey, cfg.OperatorToken.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, db, membershipService, schedulerService, tg, jwtMaker, cfg)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:  srv,
		handler: handler,
		bridge:  bridge,
		conn:    conn,
		ch:      ch,
		db:      db,
		logger:  logger,
	}, nil
}

// Run запускает long polling и HTTP-сервер, блокируется до отмены
// контекста либо падения сервера.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	go a.bridge.Janitor(ctx, 5*time.Minute)
	go func() {
		if err := a.handler.Run(ctx); err != nil {
			a.logger.Error("bot handler stopped with error", slog.Any("err", err))
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if closeErr := a.ch.Close(); closeErr != nil {
			a.logger.Error("failed to close channel", slog.Any("err", closeErr))
		}
		if closeErr := a.conn.Close(); closeErr != nil {
			a.logger.Error("failed to close connection", slog.Any("err", closeErr))
		}
		_ = a.db.DB.Close()
		return err
	}
}
