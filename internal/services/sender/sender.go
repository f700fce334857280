// Package sender доставляет личные уведомления из очередей брокера.
// Недоставляемые сообщения (закрытая личка) не возвращаются в очередь:
// повторять их бессмысленно.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/models"
)

// DirectSender отправляет личное сообщение участнику.
type DirectSender interface {
	SendDirect(ctx context.Context, telegramID int64, html string) (bool, error)
}

// Service потребитель очередей уведомлений.
type Service struct {
	log     *slog.Logger
	gateway DirectSender
}

// New создает сервис доставки уведомлений.
func New(log *slog.Logger, gateway DirectSender) *Service {
	return &Service{
		log:     log,
		gateway: gateway,
	}
}

// Handler возвращает обработчик сообщения очереди. Ошибка означает, что
// сообщение вернется в очередь и будет доставлено позже.
func (s *Service) Handler(ctx context.Context) func([]byte) error {
	return func(body []byte) error {
		const op = "services.sender.Handler"

		var notice models.Notice
		if err := json.Unmarshal(body, &notice); err != nil {
			// Битое сообщение не станет целым от повторов.
			s.log.Error("failed to decode notice", sl.Err(err))
			return nil
		}

		delivered, err := s.gateway.SendDirect(ctx, notice.TelegramID, notice.Text)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !delivered {
			s.log.Info("notice dropped, direct messages are closed",
				slog.Int64("telegram_id", notice.TelegramID),
				slog.String("kind", notice.Kind))
			return nil
		}
		s.log.Info("notice delivered",
			slog.Int64("telegram_id", notice.TelegramID),
			slog.String("kind", notice.Kind))
		return nil
	}
}
