// Package scheduler реализует три ежедневных обхода: вехи трезвости,
// утренние напоминания и снятие доступа после льготного периода.
// Каждый обход идемпотентен за счет маркеров в хранилище: повторный
// запуск в тот же день не дублирует уже выполненную работу.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/lib/render"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/metrics"
	"github.com/betrezv/trezv-club-bot/internal/models"
)

// ErrUnknownSweep запрошен обход, которого не существует.
var ErrUnknownSweep = errors.New("unknown sweep")

// UserLister описывает выборки участников для обходов.
type UserLister interface {
	ListUsersWithQuitDate(ctx context.Context) ([]*models.User, error)
	ListNotifiable(ctx context.Context) ([]*models.User, error)
	SetLastMilestone(ctx context.Context, telegramID int64, milestone int) error
}

// MilestonePublisher публикует праздничный пост о вехе в группу.
type MilestonePublisher interface {
	PublishMilestone(ctx context.Context, user *models.User, days int) (int64, error)
}

// Expirer снимает членство у участников с истекшим льготным периодом.
type Expirer interface {
	ExpireLapsed(ctx context.Context, now time.Time) ([]models.Effect, error)
}

// AccessRevoker выполняет обратимое удаление участника из группы.
type AccessRevoker interface {
	RemoveAccess(ctx context.Context, telegramID int64) error
}

// Broker публикует задание на доставку личного уведомления.
type Broker interface {
	Publish(routingKey string, notice models.Notice) error
}

// Service планировщик ежедневных обходов.
type Service struct {
	log     *slog.Logger
	users   UserLister
	posts   MilestonePublisher
	members Expirer
	revoker AccessRevoker
	broker  Broker
	cfg     config.Sweeps
}

// New создает планировщик обходов.
func New(log *slog.Logger, users UserLister, posts MilestonePublisher,
	members Expirer, revoker AccessRevoker, broker Broker, cfg config.Sweeps) *Service {
	return &Service{
		log:     log,
		users:   users,
		posts:   posts,
		members: members,
		revoker: revoker,
		broker:  broker,
		cfg:     cfg,
	}
}

// Run запускает три обхода по их ежедневному расписанию и блокируется
// до отмены контекста.
func (s *Service) Run(ctx context.Context) error {
	const op = "services.scheduler.Run"

	jobs := []struct {
		name string
		at   string
		run  func(context.Context, time.Time) error
	}{
		{"milestone", s.cfg.MilestoneAt, s.MilestoneSweep},
		{"reminder", s.cfg.ReminderAt, s.ReminderSweep},
		{"expiry", s.cfg.ExpiryAt, s.ExpirySweep},
	}
	for _, job := range jobs {
		at, err := parseClock(job.at)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", op, job.name, err)
		}
		go s.runDaily(ctx, job.name, at, job.run)
	}

	<-ctx.Done()
	return nil
}

// RunSweep запускает один обход по имени. Используется операторской
// ручкой ручного запуска.
func (s *Service) RunSweep(ctx context.Context, name string, now time.Time) error {
	const op = "services.scheduler.RunSweep"
	switch name {
	case "milestone":
		return s.MilestoneSweep(ctx, now)
	case "reminder":
		return s.ReminderSweep(ctx, now)
	case "expiry":
		return s.ExpirySweep(ctx, now)
	default:
		return fmt.Errorf("%s: %q: %w", op, name, ErrUnknownSweep)
	}
}

// MilestoneSweep находит участников, перешедших очередную веху трезвости,
// публикует праздничный пост и ставит в очередь личное поздравление.
// Маркер последней вехи продвигается сразу после публикации, поэтому
// повторный запуск никого не находит.
func (s *Service) MilestoneSweep(ctx context.Context, now time.Time) error {
	const op = "services.scheduler.MilestoneSweep"
	metrics.SweepRuns.WithLabelValues("milestone").Inc()

	users, err := s.users.ListUsersWithQuitDate(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	celebrated := 0
	for _, user := range users {
		days := soberDays(user, now)
		milestone := s.reachedMilestone(user.LastMilestone, days)
		if milestone == 0 {
			continue
		}
		if _, err := s.posts.PublishMilestone(ctx, user, milestone); err != nil {
			s.log.Error("failed to publish milestone post",
				slog.Int64("telegram_id", user.TelegramID), sl.Err(err))
			continue
		}
		if err := s.users.SetLastMilestone(ctx, user.TelegramID, milestone); err != nil {
			s.log.Error("failed to advance milestone marker",
				slog.Int64("telegram_id", user.TelegramID), sl.Err(err))
			continue
		}
		// Поздравление с вехой разовое и уходит всем: настройка
		// уведомлений отключает только утренние напоминания.
		s.queueNotice("milestone", models.Notice{
			TelegramID: user.TelegramID,
			Kind:       "milestone",
			Text:       render.MilestoneNotice(milestone),
		})
		celebrated++
	}
	s.log.Info("milestone sweep finished",
		slog.Int("checked", len(users)), slog.Int("celebrated", celebrated))
	return nil
}

// ReminderSweep ставит в очередь утренние напоминания с цитатой дня
// для участников с включенными уведомлениями.
func (s *Service) ReminderSweep(ctx context.Context, now time.Time) error {
	const op = "services.scheduler.ReminderSweep"
	metrics.SweepRuns.WithLabelValues("reminder").Inc()

	users, err := s.users.ListNotifiable(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	quote := s.quoteOfTheDay(now)
	queued := 0
	for _, user := range users {
		var b strings.Builder
		if user.QuitDate != nil {
			fmt.Fprintf(&b, "☀️ День %d.\n", soberDays(user, now))
		} else {
			b.WriteString("☀️ Доброе утро.\n")
		}
		b.WriteString(quote)
		s.queueNotice("reminder", models.Notice{
			TelegramID: user.TelegramID,
			Kind:       "reminder",
			Text:       b.String(),
		})
		queued++
	}
	s.log.Info("reminder sweep finished", slog.Int("queued", queued))
	return nil
}

// ExpirySweep снимает членство у всех, чей льготный период истек, выгоняет
// их из группы и ставит в очередь уведомление о продлении. Ошибка по
// одному участнику не трогает остальных.
func (s *Service) ExpirySweep(ctx context.Context, now time.Time) error {
	const op = "services.scheduler.ExpirySweep"
	metrics.SweepRuns.WithLabelValues("expiry").Inc()

	effects, err := s.members.ExpireLapsed(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, effect := range effects {
		switch effect.Kind {
		case models.EffectRemoveAccess:
			if err := s.revoker.RemoveAccess(ctx, effect.TelegramID); err != nil {
				metrics.EffectFailures.WithLabelValues(string(effect.Kind)).Inc()
				s.log.Error("failed to remove access",
					slog.Int64("telegram_id", effect.TelegramID), sl.Err(err))
			}
		case models.EffectSendDirect:
			s.queueNotice("renewal", models.Notice{
				TelegramID: effect.TelegramID,
				Kind:       "renewal",
				Text:       effect.Text,
			})
		}
	}
	s.log.Info("expiry sweep finished", slog.Int("effects", len(effects)))
	return nil
}

func (s *Service) queueNotice(routingKey string, notice models.Notice) {
	if err := s.broker.Publish(routingKey, notice); err != nil {
		metrics.EffectFailures.WithLabelValues("queue_notice").Inc()
		s.log.Error("failed to queue notice",
			slog.Int64("telegram_id", notice.TelegramID),
			slog.String("kind", notice.Kind), sl.Err(err))
		return
	}
	metrics.NoticesQueued.WithLabelValues(notice.Kind).Inc()
}

// reachedMilestone возвращает старшую веху, пройденную участником и еще
// не отпразднованную, либо 0.
func (s *Service) reachedMilestone(lastMilestone, days int) int {
	best := 0
	for _, m := range s.cfg.Milestones {
		if days >= m && m > lastMilestone && m > best {
			best = m
		}
	}
	return best
}

func (s *Service) quoteOfTheDay(now time.Time) string {
	if len(s.cfg.Quotes) == 0 {
		return "Сегодня снова без травы. Так держать."
	}
	return s.cfg.Quotes[now.YearDay()%len(s.cfg.Quotes)]
}

// runDaily выполняет job каждый день в момент at (UTC).
func (s *Service) runDaily(ctx context.Context, name string, at time.Duration, job func(context.Context, time.Time) error) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(at)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.log.Info("sweep started", slog.String("sweep", name))
		if err := job(ctx, time.Now().UTC()); err != nil {
			s.log.Error("sweep failed", slog.String("sweep", name), sl.Err(err))
		}
	}
}

func soberDays(user *models.User, now time.Time) int {
	if user.QuitDate == nil {
		return 0
	}
	days := int(now.Sub(*user.QuitDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// parseClock разбирает время вида "09:00" в смещение от начала суток.
func parseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
