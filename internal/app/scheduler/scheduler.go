// Package scheduler собирает приложение ежедневных обходов: хранилище,
// кеш, издателя уведомлений и телеграм-шлюз для публикаций и выгона.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/betrezv/trezv-club-bot/internal/cache"
	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/rabbitmq"
	interactionservice "github.com/betrezv/trezv-club-bot/internal/services/interaction"
	membershipservice "github.com/betrezv/trezv-club-bot/internal/services/membership"
	schedulerservice "github.com/betrezv/trezv-club-bot/internal/services/scheduler"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
	"github.com/betrezv/trezv-club-bot/internal/telegram"
)

// App приложение планировщика обходов.
type App struct {
	conn             *amqp.Connection
	ch               *amqp.Channel
	db               *repository.Storage
	schedulerService *schedulerservice.Service
	logger           *slog.Logger
}

// New собирает приложение из конфигурации.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = waitForDB(db); err != nil {
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

	return &App{
		conn:             conn,
		ch:               ch,
		db:               db,
		schedulerService: schedulerService,
		logger:           logger,
	}, nil
}

// Run запускает обходы по расписанию и блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	err := a.schedulerService.Run(ctx)

	a.logger.Info("scheduler shutting down gracefully")
	if closeErr := a.ch.Close(); closeErr != nil {
		a.logger.Error("failed to close channel", slog.Any("err", closeErr))
	}
	if closeErr := a.conn.Close(); closeErr != nil {
		a.logger.Error("failed to close connection", slog.Any("err", closeErr))
	}
	_ = a.db.DB.Close()
	return err
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		if err := repository.CheckDatabaseReady(db); err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}
