package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

const userColumns = `id, telegram_id, pseudo, avatar_emoji, quit_date, created_at,
	is_member, notifications_enabled, last_milestone, paid_until, trial_claimed`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var quitDate, paidUntil sql.NullTime
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Pseudo, &u.AvatarEmoji, &quitDate,
		&u.CreatedAt, &u.IsMember, &u.NotificationsEnabled, &u.LastMilestone,
		&paidUntil, &u.TrialClaimed); err != nil {
		return nil, err
	}
	if quitDate.Valid {
		u.QuitDate = &quitDate.Time
	}
	if paidUntil.Valid {
		u.PaidUntil = &paidUntil.Time
	}
	return u, nil
}

// GetUserByTelegramID возвращает участника по его Telegram ID.
func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUserByTelegramID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE telegram_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByID возвращает участника по внутреннему идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUserByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

var anonRe = regexp.MustCompile(`^_anon(\d*)$`)

// CreateStub создает участника с псевдонимом-заглушкой _anon, _anon2, _anon3…
// без коллизий. Применяется, когда первое событие о пользователе приходит
// извне (платеж) раньше, чем он заполнил профиль.
func (s *Storage) CreateStub(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.CreateStub"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Сериализуем выбор следующего суффикса между конкурентными вставками.
	if _, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('anon_pseudo'))`); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT pseudo FROM users WHERE pseudo LIKE '_anon%'`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	maxN := 0
	for rows.Next() {
		var pseudo string
		if err = rows.Scan(&pseudo); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		m := anonRe.FindStringSubmatch(pseudo)
		if m == nil {
			continue
		}
		n := 1
		if m[1] != "" {
			n, _ = strconv.Atoi(m[1])
		}
		if n > maxN {
			maxN = n
		}
	}
	_ = rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pseudo := "_anon"
	if maxN > 0 {
		pseudo = "_anon" + strconv.Itoa(maxN+1)
	}

	query := `INSERT INTO users (telegram_id, pseudo, avatar_emoji)
			  VALUES ($1, $2, '👤')
			  ON CONFLICT (telegram_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, query, telegramID, pseudo); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.GetUserByTelegramID(ctx, telegramID)
}

// CountTrialClaimed возвращает число уже занятых пробных слотов.
func (s *Storage) CountTrialClaimed(ctx context.Context) (int, error) {
	const op = "storage.CountTrialClaimed"
	var used int
	query := `SELECT COUNT(*) FROM users WHERE trial_claimed = TRUE`
	if err := s.DB.QueryRowContext(ctx, query).Scan(&used); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return used, nil
}

// ClaimTrial выдает пробный слот: перепроверяет остаток слотов внутри той же
// транзакции, что и выдача, и наращивает окно доступа от max(now, paid_until).
// Повторный вызов для того же участника идемпотентен: возвращает already=true,
// время не добавляется, слот повторно не списывается.
func (s *Storage) ClaimTrial(ctx context.Context, telegramID int64, trialDays, cap int, now time.Time) (already bool, err error) {
	const op = "storage.ClaimTrial"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Конкурентные заявки сериализуются, иначе пересчет слотов гоняется.
	if _, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('trial_slots'))`); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	var claimed bool
	err = tx.QueryRowContext(ctx,
		`SELECT trial_claimed FROM users WHERE telegram_id = $1 FOR UPDATE`,
		telegramID).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if claimed {
		return true, tx.Commit()
	}

	var used int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE trial_claimed = TRUE`).Scan(&used); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if used >= cap {
		return false, fmt.Errorf("%s: %w", op, ErrNoTrialSlots)
	}

	query := `UPDATE users
			  SET paid_until = GREATEST(COALESCE(paid_until, $2), $2) + make_interval(days => $3),
			      is_member = TRUE,
			      trial_claimed = TRUE
			  WHERE telegram_id = $1`
	if _, err = tx.ExecContext(ctx, query, telegramID, now, trialDays); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}

// ExtendPaidWindow наращивает окно доступа на days дней от max(now, paid_until)
// и возвращает новое значение окончания окна.
func (s *Storage) ExtendPaidWindow(ctx context.Context, telegramID int64, days int, now time.Time) (time.Time, error) {
	const op = "storage.ExtendPaidWindow"
	var until time.Time
	query := `UPDATE users
			  SET paid_until = GREATEST(COALESCE(paid_until, $2), $2) + make_interval(days => $3),
			      is_member = TRUE
			  WHERE telegram_id = $1
			  RETURNING paid_until`
	err := s.DB.QueryRowContext(ctx, query, telegramID, now, days).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return until, nil
}

// SetPaidWindow устанавливает окончание окна доступа в явное значение
// (режим replace или явный window-end из платежного уведомления).
func (s *Storage) SetPaidWindow(ctx context.Context, telegramID int64, until time.Time) error {
	const op = "storage.SetPaidWindow"
	query := `UPDATE users
			  SET paid_until = $2,
			      is_member = TRUE
			  WHERE telegram_id = $1`
	res, err := s.DB.ExecContext(ctx, query, telegramID, until)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil
}

// FindLapsedMembers находит участников, чье окно доступа закончилось раньше
// cutoff (то есть льготный период уже истек), но флаг членства еще стоит.
func (s *Storage) FindLapsedMembers(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	const op = "storage.FindLapsedMembers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE is_member = TRUE
			    AND paid_until IS NOT NULL
			    AND paid_until < $1`
	return s.queryUsers(ctx, op, query, cutoff)
}

// SetMemberInactive снимает флаг членства после окончания льготного периода.
func (s *Storage) SetMemberInactive(ctx context.Context, telegramID int64) error {
	const op = "storage.SetMemberInactive"
	query := `UPDATE users
			  SET is_member = FALSE
			  WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListUsersWithQuitDate возвращает участников, у которых задана дата отказа.
func (s *Storage) ListUsersWithQuitDate(ctx context.Context) ([]*models.User, error) {
	const op = "storage.ListUsersWithQuitDate"
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE quit_date IS NOT NULL`
	return s.queryUsers(ctx, op, query)
}

// ListNotifiable возвращает активных участников с включенными уведомлениями.
func (s *Storage) ListNotifiable(ctx context.Context) ([]*models.User, error) {
	const op = "storage.ListNotifiable"
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE is_member = TRUE AND notifications_enabled = TRUE`
	return s.queryUsers(ctx, op, query)
}

// SetLastMilestone продвигает маркер последней достигнутой вехи.
func (s *Storage) SetLastMilestone(ctx context.Context, telegramID int64, milestone int) error {
	const op = "storage.SetLastMilestone"
	query := `UPDATE users
			  SET last_milestone = $2
			  WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID, milestone); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetNotificationsEnabled включает или выключает ежедневные уведомления.
func (s *Storage) SetNotificationsEnabled(ctx context.Context, telegramID int64, enabled bool) error {
	const op = "storage.SetNotificationsEnabled"
	query := `UPDATE users
			  SET notifications_enabled = $2
			  WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID, enabled); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetQuitDate задает дату отказа участника.
func (s *Storage) SetQuitDate(ctx context.Context, telegramID int64, quitDate time.Time) error {
	const op = "storage.SetQuitDate"
	query := `UPDATE users
			  SET quit_date = $2
			  WHERE telegram_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, telegramID, quitDate); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CountCurrentlySober возвращает число участников с заданной датой отказа.
func (s *Storage) CountCurrentlySober(ctx context.Context) (int, error) {
	const op = "storage.CountCurrentlySober"
	var n int
	query := `SELECT COUNT(*) FROM users WHERE quit_date IS NOT NULL`
	if err := s.DB.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *Storage) queryUsers(ctx context.Context, op, query string, args ...any) ([]*models.User, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
