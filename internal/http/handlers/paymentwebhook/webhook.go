// Package paymentwebhook принимает уведомления платежного провайдера о
// подписках участников. Подпись тела проверяется по HMAC-SHA256, незнакомые
// события подтверждаются без обработки, чтобы провайдер их не повторял.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/models"
	"github.com/betrezv/trezv-club-bot/internal/services/membership"
)

// Обрабатываемые события провайдера.
const (
	NewSubscription     = "new_subscription"
	SubscriptionRenewed = "subscription_renewed"
)

// Service применяет платежное событие к членству участника.
type Service interface {
	ApplyPayment(ctx context.Context, event membership.PaymentEvent, now time.Time) ([]models.Effect, error)
}

// Gateway выполняет эффекты обработанного платежа.
type Gateway interface {
	CreateOneTimeInviteLink(ctx context.Context) (string, error)
	SendDirect(ctx context.Context, telegramID int64, html string) (bool, error)
}

// Payload тело уведомления провайдера.
type Payload struct {
	Name    string `json:"name" validate:"required"`
	Payload struct {
		TelegramUserID int64  `json:"telegram_user_id" validate:"required"`
		Period         string `json:"period,omitempty"`
		ExpiresAt      string `json:"expires_at,omitempty"` // RFC3339, опционально
	} `json:"payload"`
}

// Handler HTTP-обработчик платежного вебхука.
type Handler struct {
	log           *slog.Logger // Логгер для записи информации и ошибок
	service       Service
	gateway       Gateway
	webhookSecret string // Секрет для проверки подписи
}

// New создает обработчик вебхука.
func New(log *slog.Logger, service Service, gateway Gateway, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		gateway:       gateway,
		webhookSecret: secret,
	}
}

// verifySignature проверяет подпись webhook (X-Api-Signature).
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.paymentwebhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch strings.ToLower(payload.Name) {
	case NewSubscription, SubscriptionRenewed:
		if err := validator.New().Struct(payload); err != nil {
			log.Error("invalid webhook payload", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := h.processSubscription(r.Context(), &payload); err != nil {
			log.Error("failed to process webhook event", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	default:
		// Провайдер шлет и другие события, нам интересны только подписки.
		log.Info("ignored webhook event", slog.String("name", payload.Name))
	}

	log.Info("webhook processed successfully",
		slog.String("name", payload.Name),
		slog.Int64("telegram_user_id", payload.Payload.TelegramUserID))
	w.WriteHeader(http.StatusOK)
}

// processSubscription применяет платеж и выполняет его эффекты: создает
// одноразовую инвайт-ссылку и отправляет ее участнику в личку.
func (h *Handler) processSubscription(ctx context.Context, payload *Payload) error {
	now := time.Now().UTC()
	event := membership.PaymentEvent{TelegramID: payload.Payload.TelegramUserID}

	if payload.Payload.ExpiresAt != "" {
		if until, err := time.Parse(time.RFC3339, payload.Payload.ExpiresAt); err == nil {
			event.WindowEnd = &until
		} else {
			h.log.Warn("unparsable expires_at, falling back to configured window",
				slog.String("expires_at", payload.Payload.ExpiresAt))
		}
	}

	effects, err := h.service.ApplyPayment(ctx, event, now)
	if err != nil {
		return err
	}

	for _, effect := range effects {
		switch effect.Kind {
		case models.EffectInviteLink:
			link, err := h.gateway.CreateOneTimeInviteLink(ctx)
			if err != nil {
				h.log.Error("failed to create invite link", sl.Err(err))
				continue
			}
			if _, err := h.gateway.SendDirect(ctx, effect.TelegramID,
				"Оплата получена, доступ продлен. Ссылка в группу:\n"+link); err != nil {
				h.log.Error("failed to deliver invite link", sl.Err(err))
			}
		case models.EffectSendDirect:
			if _, err := h.gateway.SendDirect(ctx, effect.TelegramID, effect.Text); err != nil {
				h.log.Error("failed to deliver payment notice", sl.Err(err))
			}
		}
	}
	return nil
}
