package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/lib/render"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/models"
	"github.com/betrezv/trezv-club-bot/internal/services/interaction"
	"github.com/betrezv/trezv-club-bot/internal/services/membership"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
)

// MembershipEngine описывает операции движка членства, нужные обработчику.
type MembershipEngine interface {
	Status(ctx context.Context, telegramID int64, now time.Time) (models.MembershipState, error)
	IsActive(ctx context.Context, telegramID int64, now time.Time) (bool, error)
	ClaimTrial(ctx context.Context, telegramID int64, now time.Time) (*models.User, bool, error)
	TrialAvailable(ctx context.Context) (bool, error)
}

// InteractionEngine описывает операции модели взаимодействий, нужные
// обработчику.
type InteractionEngine interface {
	Publish(ctx context.Context, telegramID int64, topicID int, text string, now time.Time) (*models.Post, error)
	Reply(ctx context.Context, telegramID, parentID int64, text string, now time.Time) (*models.Post, error)
	Like(ctx context.Context, telegramID, postID int64, now time.Time) (bool, int, error)
	SoftDelete(ctx context.Context, telegramID, postID int64) error
	LivePost(ctx context.Context, postID int64) (*models.Post, error)
	ListPosts(ctx context.Context, telegramID int64, limit, offset int) ([]*models.Post, int, error)
}

var (
	_ MembershipEngine  = (*membership.Service)(nil)
	_ InteractionEngine = (*interaction.Service)(nil)
)

// quitDateLayout формат даты отказа, который вводит участник.
const quitDateLayout = "02.01.2006"

// postsPageSize размер страницы в выдаче /posts.
const postsPageSize = 5

// Gateway описывает операции канала, нужные обработчику обновлений.
type Gateway interface {
	Updates() tgbotapi.UpdatesChannel
	Stop()
	SendDirect(ctx context.Context, telegramID int64, html string) (bool, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
	CreateOneTimeInviteLink(ctx context.Context) (string, error)
}

// UserStore описывает операции хранилища участников, которые обработчик
// выполняет напрямую, мимо движков.
type UserStore interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	CreateStub(ctx context.Context, telegramID int64) (*models.User, error)
	SetQuitDate(ctx context.Context, telegramID int64, quitDate time.Time) error
	SetNotificationsEnabled(ctx context.Context, telegramID int64, enabled bool) error
	CountCurrentlySober(ctx context.Context) (int, error)
}

// Handler разбирает обновления long polling и ведет диалоги в личке.
type Handler struct {
	log          *slog.Logger
	gateway      Gateway
	users        UserStore
	members      MembershipEngine
	interactions InteractionEngine
	bridge       *Bridge
	cfg          *config.Config
}

// NewHandler создает обработчик обновлений.
func NewHandler(log *slog.Logger, gateway Gateway, users UserStore,
	members MembershipEngine, interactions InteractionEngine,
	bridge *Bridge, cfg *config.Config) *Handler {
	return &Handler{
		log:          log,
		gateway:      gateway,
		users:        users,
		members:      members,
		interactions: interactions,
		bridge:       bridge,
		cfg:          cfg,
	}
}

// Run читает обновления до отмены контекста.
func (h *Handler) Run(ctx context.Context) error {
	updates := h.gateway.Updates()
	for {
		select {
		case <-ctx.Done():
			h.gateway.Stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			h.handleUpdate(ctx, update)
		}
	}
}

func (h *Handler) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("update handler panicked", slog.Any("panic", r))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Chat != nil && update.Message.Chat.IsPrivate():
		h.handlePrivateMessage(ctx, update.Message)
	}
}

func (h *Handler) handlePrivateMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	if msg.IsCommand() {
		// Любая команда отменяет начатый диалог.
		h.bridge.Clear(userID)
		h.handleCommand(ctx, msg)
		return
	}
	h.handleDialogMessage(ctx, userID, msg.Text)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	switch msg.Command() {
	case "start":
		h.cmdStart(ctx, userID, msg.CommandArguments())
	case "trial":
		h.cmdTrial(ctx, userID)
	case "sos":
		h.cmdNewPost(ctx, userID, h.cfg.Telegram.Topics.SOS,
			"Напиши, что происходит. Пост уйдет в тему SOS анонимно, под твоим псевдонимом.")
	case "win":
		h.cmdNewPost(ctx, userID, h.cfg.Telegram.Topics.Wins,
			"Расскажи о своей победе. Пост уйдет в тему побед под твоим псевдонимом.")
	case "counter":
		h.cmdCounter(ctx, userID)
	case "posts":
		h.cmdPosts(ctx, userID, msg.CommandArguments())
	case "del":
		h.cmdDelete(ctx, userID, msg.CommandArguments())
	case "quit":
		h.bridge.ExpectQuitDate(userID)
		h.reply(ctx, userID, "С какого дня ты не куришь? Введи дату в формате 31.12.2024.")
	case "notify":
		h.cmdNotify(ctx, userID, msg.CommandArguments())
	case "pay":
		h.reply(ctx, userID, render.RenewalNotice(h.cfg.Membership.PayURLTemplate))
	case "cancel":
		h.reply(ctx, userID, "Ок, отменил.")
	default:
		h.reply(ctx, userID, "Не знаю такую команду. Доступно: /sos, /win, /counter, /posts, /quit, /notify, /pay, /trial.")
	}
}

func (h *Handler) cmdStart(ctx context.Context, userID int64, payload string) {
	if _, err := h.users.GetUserByTelegramID(ctx, userID); errors.Is(err, repository.ErrUserNotFound) {
		if _, err = h.users.CreateStub(ctx, userID); err != nil {
			h.log.Error("failed to create user", sl.Err(err))
			h.reply(ctx, userID, "Что-то сломалось, попробуй еще раз.")
			return
		}
	} else if err != nil {
		h.log.Error("failed to load user", sl.Err(err))
		return
	}

	// Deep-link вида /start reply_123 заново открывает форму ответа:
	// так кнопка из группы работает даже при закрытой личке.
	if postID, ok := parseReplyPayload(payload); ok {
		h.openReplyDialog(ctx, userID, postID, time.Now().UTC())
		return
	}

	state, err := h.members.Status(ctx, userID, time.Now().UTC())
	if err != nil {
		h.log.Error("failed to resolve membership", sl.Err(err))
		return
	}
	switch state {
	case models.StateActive, models.StateGracePeriod:
		h.reply(ctx, userID, "С возвращением. /sos и /win — чтобы написать в клуб, /counter — твоя статистика.")
	case models.StateTrialEligible:
		h.replyTrialOffer(ctx, userID)
	default:
		h.reply(ctx, userID, render.RenewalNotice(h.cfg.Membership.PayURLTemplate))
	}
}

// replyTrialOffer зовет занять пробное место, если слоты еще остались.
// При исчерпанных слотах сразу честно показывает оплату, не заманивая
// на мертвый /trial.
func (h *Handler) replyTrialOffer(ctx context.Context, userID int64) {
	available, err := h.members.TrialAvailable(ctx)
	if err != nil {
		// Остаток слотов не узнали, зовем на /trial: выдача сама
		// перепроверит остаток внутри транзакции.
		h.log.Warn("failed to check trial capacity", sl.Err(err))
		available = true
	}
	if !available {
		h.reply(ctx, userID, "Привет. Это закрытый клуб бросающих курить траву.\n"+
			"Бесплатные места закончились.\n"+render.RenewalNotice(h.cfg.Membership.PayURLTemplate))
		return
	}
	h.reply(ctx, userID, "Привет. Это закрытый клуб бросающих курить траву.\n"+
		"Доступ платный, но сейчас действует бесплатный период: /trial — занять место.")
}

// openReplyDialog открывает ожидание ответа на пост. Перед этим пост
// проверяется на жизнь, а участник на действующий доступ: иначе мост
// взводился бы впустую и участник узнавал об отказе только после того,
// как набрал текст.
func (h *Handler) openReplyDialog(ctx context.Context, userID, postID int64, now time.Time) {
	if _, err := h.interactions.LivePost(ctx, postID); err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			h.reply(ctx, userID, "Этого поста уже нет: автор удалил его.")
			return
		}
		h.log.Error("failed to load post", sl.Err(err))
		h.reply(ctx, userID, "Что-то сломалось, попробуй еще раз.")
		return
	}
	active, err := h.members.IsActive(ctx, userID, now)
	if err != nil {
		h.log.Error("failed to resolve membership", sl.Err(err))
		h.reply(ctx, userID, "Что-то сломалось, попробуй еще раз.")
		return
	}
	if !active {
		h.reply(ctx, userID, render.RenewalNotice(h.cfg.Membership.PayURLTemplate))
		return
	}
	h.bridge.ExpectReply(userID, postID)
	h.reply(ctx, userID, "Напиши ответ, я опубликую его под постом.")
}

func (h *Handler) cmdTrial(ctx context.Context, userID int64) {
	_, already, err := h.members.ClaimTrial(ctx, userID, time.Now().UTC())
	if errors.Is(err, repository.ErrNoTrialSlots) {
		h.reply(ctx, userID, "Бесплатные места закончились.\n"+render.RenewalNotice(h.cfg.Membership.PayURLTemplate))
		return
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		h.reply(ctx, userID, "Сначала нажми /start.")
		return
	}
	if err != nil {
		h.log.Error("failed to claim trial", sl.Err(err))
		h.reply(ctx, userID, "Что-то сломалось, попробуй еще раз.")
		return
	}
	if already {
		h.reply(ctx, userID, "Твое место уже занято тобой. Доступ действует.")
		return
	}

	link, err := h.gateway.CreateOneTimeInviteLink(ctx)
	if err != nil {
		h.log.Error("failed to create invite link", sl.Err(err))
		h.reply(ctx, userID, "Доступ выдан, но ссылка не создалась. Напиши /start чуть позже.")
		return
	}
	h.reply(ctx, userID, fmt.Sprintf(
		"Готово, место твое на %d дней. Вот одноразовая ссылка в группу:\n%s",
		h.cfg.Membership.TrialDays, link))
}

func (h *Handler) cmdNewPost(ctx context.Context, userID int64, topicID int, prompt string) {
	active, err := h.members.IsActive(ctx, userID, time.Now().UTC())
	if err != nil {
		h.log.Error("failed to resolve membership", sl.Err(err))
		return
	}
	if !active {
		h.reply(ctx, userID, render.RenewalNotice(h.cfg.Membership.PayURLTemplate))
		return
	}
	h.bridge.ExpectPost(userID, topicID)
	h.reply(ctx, userID, prompt)
}

func (h *Handler) cmdCounter(ctx context.Context, userID int64) {
	user, err := h.users.GetUserByTelegramID(ctx, userID)
	if err != nil {
		h.reply(ctx, userID, "Сначала нажми /start.")
		return
	}
	if user.QuitDate == nil {
		h.reply(ctx, userID, "Дата отказа не задана. Укажи ее командой /quit.")
		return
	}

	now := time.Now().UTC()
	days := int(now.Sub(*user.QuitDate).Hours() / 24)
	sober, err := h.users.CountCurrentlySober(ctx)
	if err != nil {
		h.log.Warn("failed to count sober members", sl.Err(err))
	}

	c := h.cfg.Counter
	h.reply(ctx, userID, fmt.Sprintf(
		"📊 Трезвость: %s\n"+
			"⏱ Сэкономлено часов: %d\n"+
			"💸 Сэкономлено денег: %d\n"+
			"🧠 Спасено нейронов: %d\n\n"+
			"Сейчас держатся вместе с тобой: %d",
		render.SobrietyDuration(user.QuitDate, now),
		days*c.AvgHoursDay, days*c.AvgCostDay, days*c.AvgNeuronsDay, sober))
}

func (h *Handler) cmdPosts(ctx context.Context, userID int64, args string) {
	page := 1
	if n, err := strconv.Atoi(strings.TrimSpace(args)); err == nil && n > 0 {
		page = n
	}

	posts, total, err := h.interactions.ListPosts(ctx, userID, postsPageSize, (page-1)*postsPageSize)
	if err != nil {
		h.log.Error("failed to list posts", sl.Err(err))
		h.reply(ctx, userID, "Не получилось достать посты, попробуй еще раз.")
		return
	}
	if total == 0 {
		h.reply(ctx, userID, "У тебя пока нет постов. /sos или /win — чтобы написать первый.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Твои посты (%d всего), страница %d:\n\n", total, page)
	for _, post := range posts {
		fmt.Fprintf(&b, "• <a href='%s'>#%d</a> от %s — %s\n",
			render.PostLink(h.cfg.Telegram.SuperGroup, post.ID), post.ID,
			post.CreatedAt.Format("02.01.2006"),
			render.RepliesLabel(post.ReplyCount))
	}
	b.WriteString("\nУдалить пост: /del <номер>.")
	if total > page*postsPageSize {
		fmt.Fprintf(&b, " Следующая страница: /posts %d", page+1)
	}
	h.reply(ctx, userID, b.String())
}

func (h *Handler) cmdDelete(ctx context.Context, userID int64, args string) {
	postID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		h.reply(ctx, userID, "Укажи номер поста: /del 123. Номера есть в /posts.")
		return
	}

	err = h.interactions.SoftDelete(ctx, userID, postID)
	switch {
	case errors.Is(err, repository.ErrPostNotFound):
		h.reply(ctx, userID, "Такого поста нет или он уже удален.")
	case errors.Is(err, interaction.ErrForbidden):
		h.reply(ctx, userID, "Это не твой пост.")
	case err != nil:
		h.log.Error("failed to delete post", sl.Err(err))
		h.reply(ctx, userID, "Не получилось удалить, попробуй еще раз.")
	default:
		h.reply(ctx, userID, "Удалил. Текст в группе заменен заглушкой.")
	}
}

func (h *Handler) cmdNotify(ctx context.Context, userID int64, args string) {
	switch strings.TrimSpace(strings.ToLower(args)) {
	case "on":
		if err := h.users.SetNotificationsEnabled(ctx, userID, true); err != nil {
			h.log.Error("failed to enable notifications", sl.Err(err))
			return
		}
		h.reply(ctx, userID, "Утренние напоминания включены.")
	case "off":
		if err := h.users.SetNotificationsEnabled(ctx, userID, false); err != nil {
			h.log.Error("failed to disable notifications", sl.Err(err))
			return
		}
		h.reply(ctx, userID, "Утренние напоминания выключены.")
	default:
		h.reply(ctx, userID, "Используй /notify on или /notify off.")
	}
}

// handleDialogMessage закрывает открытое ожидание моста: текст участника
// становится постом, ответом или датой отказа.
func (h *Handler) handleDialogMessage(ctx context.Context, userID int64, text string) {
	p, ok := h.bridge.Take(userID)
	if !ok {
		h.reply(ctx, userID, "Я жду команду. /sos и /win — написать в клуб, /counter — статистика.")
		return
	}
	now := time.Now().UTC()

	switch p.kind {
	case pendingPost:
		post, err := h.interactions.Publish(ctx, userID, p.topicID, text, now)
		if err != nil {
			h.replyInteractionError(ctx, userID, err)
			return
		}
		h.reply(ctx, userID, fmt.Sprintf("Опубликовал: %s",
			render.PostLink(h.cfg.Telegram.SuperGroup, post.ID)))
	case pendingReply:
		reply, err := h.interactions.Reply(ctx, userID, p.parentID, text, now)
		if err != nil {
			h.replyInteractionError(ctx, userID, err)
			return
		}
		h.reply(ctx, userID, fmt.Sprintf("Ответ опубликован: %s",
			render.PostLink(h.cfg.Telegram.SuperGroup, reply.ID)))
	case pendingQuit:
		quitDate, err := time.Parse(quitDateLayout, strings.TrimSpace(text))
		if err != nil || quitDate.After(now) {
			h.bridge.ExpectQuitDate(userID)
			h.reply(ctx, userID, "Не понял дату. Нужен формат 31.12.2024, и дата не из будущего.")
			return
		}
		if err := h.users.SetQuitDate(ctx, userID, quitDate); err != nil {
			h.log.Error("failed to set quit date", sl.Err(err))
			h.reply(ctx, userID, "Что-то сломалось, попробуй еще раз.")
			return
		}
		h.reply(ctx, userID, fmt.Sprintf("Записал. Твоя трезвость: %s. Смотри /counter.",
			render.SobrietyDuration(&quitDate, now)))
	}
}

func (h *Handler) replyInteractionError(ctx context.Context, userID int64, err error) {
	switch {
	case errors.Is(err, interaction.ErrNotMember):
		h.reply(ctx, userID, render.RenewalNotice(h.cfg.Membership.PayURLTemplate))
	case errors.Is(err, repository.ErrPostNotFound):
		h.reply(ctx, userID, "Этого поста уже нет: автор удалил его.")
	case errors.Is(err, interaction.ErrEmptyPost):
		h.reply(ctx, userID, "Пустой текст не опубликую. Напиши хоть пару слов.")
	default:
		h.log.Error("interaction failed", sl.Err(err))
		h.reply(ctx, userID, "Не получилось опубликовать, попробуй еще раз.")
	}
}

func (h *Handler) reply(ctx context.Context, userID int64, text string) {
	if _, err := h.gateway.SendDirect(ctx, userID, text); err != nil {
		h.log.Warn("failed to send direct message",
			slog.Int64("telegram_id", userID), sl.Err(err))
	}
}

// parseReplyPayload разбирает payload deep-link вида "reply_123".
func parseReplyPayload(payload string) (int64, bool) {
	const prefix = "reply_"
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(payload[len(prefix):], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
