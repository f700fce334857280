// Package membership реализует движок жизненного цикла членства:
// классификацию состояния участника, выдачу пробного окна, применение
// платежей и снятие доступа после льготного периода.
//
// Движок не выполняет внешние вызовы сам: переход состояния в хранилище
// первичен, а действия в Telegram возвращаются вызывающему списком
// models.Effect и выполняются им с ограниченными повторами.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/lib/render"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/models"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
)

// snapshotTTL время жизни кешированного снапшота членства.
const snapshotTTL = 5 * time.Minute

// UserRepository описывает операции хранилища, нужные движку членства.
type UserRepository interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	CreateStub(ctx context.Context, telegramID int64) (*models.User, error)
	ClaimTrial(ctx context.Context, telegramID int64, trialDays, cap int, now time.Time) (bool, error)
	CountTrialClaimed(ctx context.Context) (int, error)
	ExtendPaidWindow(ctx context.Context, telegramID int64, days int, now time.Time) (time.Time, error)
	SetPaidWindow(ctx context.Context, telegramID int64, until time.Time) error
	FindLapsedMembers(ctx context.Context, cutoff time.Time) ([]*models.User, error)
	SetMemberInactive(ctx context.Context, telegramID int64) error
}

// SnapshotCache описывает кеш снапшотов членства.
type SnapshotCache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Decision результат классификации участника: состояние и отложенные
// внешние действия, которые должен выполнить вызывающий.
type Decision struct {
	State   models.MembershipState
	Effects []models.Effect
}

// PaymentEvent нормализованное платежное уведомление.
// WindowEnd, если задан, фиксирует окончание окна явно; иначе окно
// наращивается на WindowDays (0 — на настроенное по умолчанию).
type PaymentEvent struct {
	TelegramID int64
	WindowDays int
	WindowEnd  *time.Time
}

// snapshot кешируемый снапшот состояния участника.
type snapshot struct {
	State     models.MembershipState `json:"state"`
	CheckedAt time.Time              `json:"checked_at"`
}

// Service движок жизненного цикла членства.
type Service struct {
	log   *slog.Logger
	repo  UserRepository
	cache SnapshotCache
	cfg   config.Membership
}

// New создает движок членства.
func New(log *slog.Logger, repo UserRepository, cache SnapshotCache, cfg config.Membership) *Service {
	return &Service{
		log:   log,
		repo:  repo,
		cache: cache,
		cfg:   cfg,
	}
}

// Evaluate классифицирует участника на момент now. Чистая функция:
// хранилище не трогает, для истекшего членства возвращает эффекты
// снятия доступа и личного уведомления.
func (s *Service) Evaluate(user *models.User, now time.Time) Decision {
	switch {
	case user == nil:
		return Decision{State: models.StateUnregistered}
	case user.IsActiveMember(now):
		return Decision{State: models.StateActive}
	case user.PaidUntil == nil:
		if user.TrialClaimed {
			return Decision{State: models.StateExpired}
		}
		return Decision{State: models.StateTrialEligible}
	case now.Before(user.PaidUntil.AddDate(0, 0, s.cfg.GraceDays)):
		return Decision{State: models.StateGracePeriod}
	default:
		d := Decision{State: models.StateExpired}
		if user.IsMember {
			d.Effects = []models.Effect{
				{Kind: models.EffectRemoveAccess, TelegramID: user.TelegramID},
				{
					Kind:       models.EffectSendDirect,
					TelegramID: user.TelegramID,
					Text:       render.RenewalNotice(s.cfg.PayURLTemplate),
				},
			}
		}
		return d
	}
}

// Status возвращает состояние участника, используя кешированный снапшот.
func (s *Service) Status(ctx context.Context, telegramID int64, now time.Time) (models.MembershipState, error) {
	const op = "services.membership.Status"

	key := snapshotKey(telegramID)
	var snap snapshot
	found, err := s.cache.Get(key, &snap)
	if err != nil {
		s.log.Warn("failed to read membership snapshot", sl.Err(err))
	}
	if found {
		return snap.State, nil
	}

	user, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	state := s.Evaluate(user, now).State

	if err := s.cache.Set(key, snapshot{State: state, CheckedAt: now}, snapshotTTL); err != nil {
		s.log.Warn("failed to cache membership snapshot", sl.Err(err))
	}
	return state, nil
}

// IsActive сообщает, действует ли доступ участника на момент now.
// Льготный период доступ сохраняет.
func (s *Service) IsActive(ctx context.Context, telegramID int64, now time.Time) (bool, error) {
	state, err := s.Status(ctx, telegramID, now)
	if err != nil {
		return false, err
	}
	return state == models.StateActive || state == models.StateGracePeriod, nil
}

// ClaimTrial выдает участнику пробное окно доступа. Повторный вызов
// идемпотентен: время не добавляется, слот не списывается. Возвращает
// обновленного участника и признак повторного вызова.
func (s *Service) ClaimTrial(ctx context.Context, telegramID int64, now time.Time) (*models.User, bool, error) {
	const op = "services.membership.ClaimTrial"

	already, err := s.repo.ClaimTrial(ctx, telegramID, s.cfg.TrialDays, s.cfg.TrialCap, now)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(telegramID)

	user, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("trial claimed",
		slog.Int64("telegram_id", telegramID),
		slog.Bool("already", already))
	return user, already, nil
}

// TrialAvailable сообщает, остались ли свободные пробные слоты. Ответ
// информационный: авторитетная проверка остатка делается внутри выдачи.
func (s *Service) TrialAvailable(ctx context.Context) (bool, error) {
	const op = "services.membership.TrialAvailable"

	used, err := s.repo.CountTrialClaimed(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return used < s.cfg.TrialCap, nil
}

// ApplyPayment применяет платежное уведомление: создает заглушку
// участника при необходимости, продлевает окно доступа и возвращает
// эффекты выдачи инвайт-ссылки.
func (s *Service) ApplyPayment(ctx context.Context, event PaymentEvent, now time.Time) ([]models.Effect, error) {
	const op = "services.membership.ApplyPayment"

	_, err := s.repo.GetUserByTelegramID(ctx, event.TelegramID)
	if errors.Is(err, repository.ErrUserNotFound) {
		// Платеж пришел раньше, чем участник дошел до бота.
		if _, err = s.repo.CreateStub(ctx, event.TelegramID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case event.WindowEnd != nil:
		if err = s.repo.SetPaidWindow(ctx, event.TelegramID, *event.WindowEnd); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case s.cfg.PaymentMode == "replace":
		days := event.WindowDays
		if days == 0 {
			days = s.cfg.PaymentWindowDays
		}
		if err = s.repo.SetPaidWindow(ctx, event.TelegramID, now.AddDate(0, 0, days)); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	default:
		days := event.WindowDays
		if days == 0 {
			days = s.cfg.PaymentWindowDays
		}
		if _, err = s.repo.ExtendPaidWindow(ctx, event.TelegramID, days, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	s.invalidate(event.TelegramID)

	s.log.Info("payment applied", slog.Int64("telegram_id", event.TelegramID))
	return []models.Effect{
		{Kind: models.EffectInviteLink, TelegramID: event.TelegramID},
	}, nil
}

// ExpireLapsed снимает флаг членства у всех, чей льготный период истек
// на момент now, и возвращает эффекты снятия доступа. Ошибка по одному
// участнику не прерывает обход остальных. Повторный запуск ничего не
// находит: флаг уже снят.
func (s *Service) ExpireLapsed(ctx context.Context, now time.Time) ([]models.Effect, error) {
	const op = "services.membership.ExpireLapsed"

	cutoff := now.AddDate(0, 0, -s.cfg.GraceDays)
	lapsed, err := s.repo.FindLapsedMembers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var effects []models.Effect
	for _, user := range lapsed {
		if err := s.repo.SetMemberInactive(ctx, user.TelegramID); err != nil {
			s.log.Error("failed to deactivate lapsed member",
				slog.Int64("telegram_id", user.TelegramID), sl.Err(err))
			continue
		}
		s.invalidate(user.TelegramID)
		effects = append(effects, s.Evaluate(user, now).Effects...)
	}
	s.log.Info("expiry sweep finished", slog.Int("lapsed", len(lapsed)))
	return effects, nil
}

func (s *Service) invalidate(telegramID int64) {
	if err := s.cache.Invalidate(snapshotKey(telegramID)); err != nil {
		s.log.Warn("failed to invalidate membership snapshot", sl.Err(err))
	}
}

func snapshotKey(telegramID int64) string {
	return fmt.Sprintf("member:%d", telegramID)
}
