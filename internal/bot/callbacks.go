package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/betrezv/trezv-club-bot/internal/lib/render"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/services/interaction"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
)

// supportText канонический ответ кнопки «Поддержать» в теме SOS.
const supportText = "🤝 Я рядом. Держись, у тебя получится."

// handleCallback разбирает нажатие кнопки под постом. Callback data несет
// действие и message_id поста: "like:123", "reply:123", "support:123".
func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, postID, ok := parseCallbackData(cb.Data)
	if !ok {
		h.answer(ctx, cb.ID, "")
		return
	}
	userID := cb.From.ID
	now := time.Now().UTC()

	switch action {
	case "like":
		h.callbackLike(ctx, cb.ID, userID, postID, now)
	case "reply":
		h.callbackReply(ctx, cb.ID, userID, postID, now)
	case "support":
		h.callbackSupport(ctx, cb.ID, userID, postID, now)
	default:
		h.answer(ctx, cb.ID, "")
	}
}

func (h *Handler) callbackLike(ctx context.Context, callbackID string, userID, postID int64, now time.Time) {
	liked, _, err := h.interactions.Like(ctx, userID, postID, now)
	switch {
	case errors.Is(err, interaction.ErrNotMember):
		h.answer(ctx, callbackID, "Доступ не действует. Продли подписку в личке бота.")
	case errors.Is(err, repository.ErrPostNotFound):
		h.answer(ctx, callbackID, "Пост удален.")
	case err != nil:
		h.log.Error("like failed", sl.Err(err))
		h.answer(ctx, callbackID, "Не получилось, нажми еще раз.")
	case liked:
		h.answer(ctx, callbackID, "❤️")
	default:
		h.answer(ctx, callbackID, "Лайк снят.")
	}
}

// callbackReply открывает ожидание ответа и зовет участника в личку.
// Если личка закрыта, в тосте остается deep-link: он переоткроет
// ожидание через /start. Мост взводится только для живого поста и
// действующего доступа, иначе участник писал бы ответ впустую.
func (h *Handler) callbackReply(ctx context.Context, callbackID string, userID, postID int64, now time.Time) {
	if _, err := h.interactions.LivePost(ctx, postID); err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			h.answer(ctx, callbackID, "Пост удален.")
			return
		}
		h.log.Error("failed to load post", sl.Err(err))
		h.answer(ctx, callbackID, "Не получилось, нажми еще раз.")
		return
	}
	active, err := h.members.IsActive(ctx, userID, now)
	if err != nil {
		h.log.Error("failed to resolve membership", sl.Err(err))
		h.answer(ctx, callbackID, "Не получилось, нажми еще раз.")
		return
	}
	if !active {
		h.answer(ctx, callbackID, "Доступ не действует. Продли подписку в личке бота.")
		return
	}

	h.bridge.ExpectReply(userID, postID)
	delivered, err := h.gateway.SendDirect(ctx, userID,
		"Напиши ответ, я опубликую его под постом.")
	if err != nil {
		h.log.Warn("failed to open reply dialog", sl.Err(err))
	}
	if !delivered {
		h.answer(ctx, callbackID, "Открой личку бота: "+
			render.DeepLink(h.cfg.Telegram.BotUsername, postID))
		return
	}
	h.answer(ctx, callbackID, "Жду твой ответ в личке.")
}

func (h *Handler) callbackSupport(ctx context.Context, callbackID string, userID, postID int64, now time.Time) {
	_, err := h.interactions.Reply(ctx, userID, postID, supportText, now)
	switch {
	case errors.Is(err, interaction.ErrNotMember):
		h.answer(ctx, callbackID, "Доступ не действует. Продли подписку в личке бота.")
	case errors.Is(err, repository.ErrPostNotFound):
		h.answer(ctx, callbackID, "Пост удален.")
	case err != nil:
		h.log.Error("support failed", sl.Err(err))
		h.answer(ctx, callbackID, "Не получилось, нажми еще раз.")
	default:
		h.answer(ctx, callbackID, "Поддержка отправлена 🤝")
	}
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) {
	if err := h.gateway.AnswerCallback(ctx, callbackID, text); err != nil {
		h.log.Warn("failed to answer callback", sl.Err(err))
	}
}

// parseCallbackData разбирает callback data вида "action:123".
func parseCallbackData(data string) (action string, postID int64, ok bool) {
	action, raw, found := strings.Cut(data, ":")
	if !found {
		return "", 0, false
	}
	postID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || postID <= 0 {
		return "", 0, false
	}
	return action, postID, true
}
