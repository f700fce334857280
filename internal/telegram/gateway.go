// Package telegram оборачивает Bot API: публикация в темы супергруппы,
// правка тел и кнопок, личные сообщения, выдача и отзыв доступа.
// Все вызовы идут через общий rate-limiter и ограниченные повторы.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/models"
)

// Client клиент Telegram Bot API поверх long polling.
type Client struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	cfg     config.Telegram
	log     *slog.Logger
}

// New авторизует бота и настраивает ограничитель отправок.
func New(cfg config.Telegram, log *slog.Logger) (*Client, error) {
	const op = "telegram.New"
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
		cfg:     cfg,
		log:     log,
	}, nil
}

// Updates возвращает канал обновлений long polling.
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	return c.api.GetUpdatesChan(u)
}

// Stop останавливает long polling.
func (c *Client) Stop() {
	c.api.StopReceivingUpdates()
}

// Publish отправляет HTML-сообщение в тему супергруппы и возвращает
// присвоенный Telegram message_id.
func (c *Client) Publish(ctx context.Context, topicID int, html string, controls models.ControlSet) (int64, error) {
	const op = "telegram.Publish"
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.cfg.SuperGroup)
	params.AddNonZero("message_thread_id", topicID)
	params["text"] = html
	params["parse_mode"] = tgbotapi.ModeHTML
	params.AddBool("disable_web_page_preview", true)

	resp, err := c.request(ctx, "sendMessage", params)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	var msg tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msg); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	messageID := int64(msg.MessageID)
	// Кнопки несут message_id в callback data, поэтому вешаются
	// отдельной правкой после того, как id стал известен.
	if controls != models.NoControls {
		if err := c.EditControls(ctx, messageID, controls); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}
	return messageID, nil
}

// EditBody заменяет текст сообщения в супергруппе вместе с кнопками.
func (c *Client) EditBody(ctx context.Context, messageID int64, html string, controls models.ControlSet) error {
	const op = "telegram.EditBody"
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.cfg.SuperGroup)
	params.AddNonZero64("message_id", messageID)
	params["text"] = html
	params["parse_mode"] = tgbotapi.ModeHTML
	params.AddBool("disable_web_page_preview", true)
	if controls != models.NoControls {
		if err := params.AddInterface("reply_markup", controlsMarkup(messageID, controls)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if _, err := c.request(ctx, "editMessageText", params); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// EditControls перерисовывает только кнопки под сообщением.
func (c *Client) EditControls(ctx context.Context, messageID int64, controls models.ControlSet) error {
	const op = "telegram.EditControls"
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.cfg.SuperGroup)
	params.AddNonZero64("message_id", messageID)
	if controls != models.NoControls {
		if err := params.AddInterface("reply_markup", controlsMarkup(messageID, controls)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if _, err := c.request(ctx, "editMessageReplyMarkup", params); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SendDirect отправляет личное сообщение. Возвращает false без ошибки,
// если участник закрыл личку или заблокировал бота.
func (c *Client) SendDirect(ctx context.Context, telegramID int64, html string) (bool, error) {
	const op = "telegram.SendDirect"
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", telegramID)
	params["text"] = html
	params["parse_mode"] = tgbotapi.ModeHTML
	params.AddBool("disable_web_page_preview", true)

	_, err := c.request(ctx, "sendMessage", params)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 403 {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// AnswerCallback закрывает "часики" на нажатой кнопке.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	const op = "telegram.AnswerCallback"
	params := make(tgbotapi.Params)
	params["callback_query_id"] = callbackID
	params.AddNonEmpty("text", text)
	if _, err := c.request(ctx, "answerCallbackQuery", params); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RemoveAccess выгоняет участника из супергруппы: бан с немедленным
// разбаном, чтобы он мог вернуться по новой инвайт-ссылке после оплаты.
func (c *Client) RemoveAccess(ctx context.Context, telegramID int64) error {
	const op = "telegram.RemoveAccess"
	ban := make(tgbotapi.Params)
	ban.AddNonZero64("chat_id", c.cfg.SuperGroup)
	ban.AddNonZero64("user_id", telegramID)
	if _, err := c.request(ctx, "banChatMember", ban); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	unban := make(tgbotapi.Params)
	unban.AddNonZero64("chat_id", c.cfg.SuperGroup)
	unban.AddNonZero64("user_id", telegramID)
	unban.AddBool("only_if_banned", true)
	if _, err := c.request(ctx, "unbanChatMember", unban); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateOneTimeInviteLink создает одноразовую инвайт-ссылку в супергруппу.
func (c *Client) CreateOneTimeInviteLink(ctx context.Context) (string, error) {
	const op = "telegram.CreateOneTimeInviteLink"
	params := make(tgbotapi.Params)
	params.AddNonZero64("chat_id", c.cfg.SuperGroup)
	params.AddNonZero("member_limit", 1)
	resp, err := c.request(ctx, "createChatInviteLink", params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return link.InviteLink, nil
}

// request выполняет вызов Bot API под общим rate-limiter с ограниченными
// повторами. Ошибки 4xx не повторяются.
func (c *Client) request(ctx context.Context, endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.SendRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.api.MakeRequest(endpoint, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			return nil, err
		}
		c.log.Warn("telegram request failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt+1),
			sl.Err(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// controlsMarkup строит inline-клавиатуру по набору кнопок поста.
func controlsMarkup(messageID int64, controls models.ControlSet) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	if controls.Reply {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			"💬 Ответить", fmt.Sprintf("reply:%d", messageID)))
	}
	if controls.Support {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			"🤝 Поддержать", fmt.Sprintf("support:%d", messageID)))
	}
	if controls.Like {
		label := "❤️"
		if controls.LikeCount > 0 {
			label = fmt.Sprintf("❤️ %d", controls.LikeCount)
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			label, fmt.Sprintf("like:%d", messageID)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
}
