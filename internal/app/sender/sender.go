// Package sender собирает приложение доставки уведомлений: потребителей
// очередей брокера и телеграм-шлюз для личных сообщений.
package sender

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/rabbitmq"
	senderservice "github.com/betrezv/trezv-club-bot/internal/services/sender"
	"github.com/betrezv/trezv-club-bot/internal/telegram"
)

// App приложение доставки уведомлений.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.Service
	logger        *slog.Logger
}

// New собирает приложение из конфигурации.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
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

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderservice.New(logger, tg),
		logger:        logger,
	}, nil
}

// Run подписывается на очереди уведомлений и блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	for _, q := range rabbitmq.GetNoticeQueues() {
		if err := rabbitmq.ConsumerMessage(ctx, a.ch, q.QueueName, a.senderService.Handler(ctx)); err != nil {
			a.logger.Error("failed to start consumer",
				slog.String("queue", q.QueueName), slog.Any("err", err))
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("sender shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	return nil
}
