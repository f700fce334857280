package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/models"
)

type mockUserLister struct {
	mock.Mock
}

func (m *mockUserLister) ListUsersWithQuitDate(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	if u := args.Get(0); u != nil {
		return u.([]*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserLister) ListNotifiable(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	if u := args.Get(0); u != nil {
		return u.([]*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserLister) SetLastMilestone(ctx context.Context, telegramID int64, milestone int) error {
	args := m.Called(ctx, telegramID, milestone)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishMilestone(ctx context.Context, user *models.User, days int) (int64, error) {
	args := m.Called(ctx, user, days)
	return args.Get(0).(int64), args.Error(1)
}

type mockExpirer struct {
	mock.Mock
}

func (m *mockExpirer) ExpireLapsed(ctx context.Context, now time.Time) ([]models.Effect, error) {
	args := m.Called(ctx, now)
	if e := args.Get(0); e != nil {
		return e.([]models.Effect), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockRevoker struct {
	mock.Mock
}

func (m *mockRevoker) RemoveAccess(ctx context.Context, telegramID int64) error {
	args := m.Called(ctx, telegramID)
	return args.Error(0)
}

// recordingBroker запоминает поставленные в очередь уведомления.
type recordingBroker struct {
	notices []models.Notice
	keys    []string
	fail    bool
}

func (b *recordingBroker) Publish(routingKey string, notice models.Notice) error {
	if b.fail {
		return errors.New("broker is down")
	}
	b.keys = append(b.keys, routingKey)
	b.notices = append(b.notices, notice)
	return nil
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSweeps() config.Sweeps {
	return config.Sweeps{
		MilestoneAt: "00:30",
		ReminderAt:  "09:00",
		ExpiryAt:    "01:05",
		Milestones:  []int{7, 30, 60, 90, 100, 180, 365},
		Quotes:      []string{"Первая.", "Вторая.", "Третья."},
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestReachedMilestone(t *testing.T) {
	svc := New(newNoopLogger(), nil, nil, nil, nil, nil, testSweeps())

	tests := []struct {
		name          string
		lastMilestone int
		days          int
		want          int
	}{
		{"before the first milestone", 0, 5, 0},
		{"exactly on a milestone", 0, 7, 7},
		{"between milestones", 7, 29, 0},
		{"skipped several milestones at once", 7, 95, 90},
		{"already celebrated", 90, 95, 0},
		{"past the last milestone", 365, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.reachedMilestone(tt.lastMilestone, tt.days))
		})
	}
}

func TestMilestoneSweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC)
	reached := &models.User{
		TelegramID:           10,
		QuitDate:             ptrTime(now.AddDate(0, 0, -30)),
		LastMilestone:        7,
		NotificationsEnabled: true,
	}
	notReached := &models.User{
		TelegramID:    20,
		QuitDate:      ptrTime(now.AddDate(0, 0, -10)),
		LastMilestone: 7,
	}
	silent := &models.User{
		TelegramID:    30,
		QuitDate:      ptrTime(now.AddDate(0, 0, -60)),
		LastMilestone: 30,
	}

	users := &mockUserLister{}
	users.On("ListUsersWithQuitDate", mock.Anything).
		Return([]*models.User{reached, notReached, silent}, nil)
	users.On("SetLastMilestone", mock.Anything, int64(10), 30).Return(nil)
	users.On("SetLastMilestone", mock.Anything, int64(30), 60).Return(nil)

	posts := &mockPublisher{}
	posts.On("PublishMilestone", mock.Anything, reached, 30).Return(int64(1), nil)
	posts.On("PublishMilestone", mock.Anything, silent, 60).Return(int64(2), nil)

	broker := &recordingBroker{}
	svc := New(newNoopLogger(), users, posts, nil, nil, broker, testSweeps())

	require.NoError(t, svc.MilestoneSweep(context.Background(), now))

	// Поздравление с вехой уходит и при выключенных утренних напоминаниях:
	// настройка /notify off отключает только ежедневную рассылку.
	require.Len(t, broker.notices, 2)
	assert.Equal(t, int64(10), broker.notices[0].TelegramID)
	assert.Equal(t, "milestone", broker.notices[0].Kind)
	assert.Contains(t, broker.notices[0].Text, "30")
	assert.Equal(t, int64(30), broker.notices[1].TelegramID)
	assert.Equal(t, "milestone", broker.notices[1].Kind)
	assert.Contains(t, broker.notices[1].Text, "60")
	users.AssertExpectations(t)
	posts.AssertExpectations(t)
}

func TestMilestoneSweep_RerunFindsNothing(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC)
	user := &models.User{
		TelegramID:    10,
		QuitDate:      ptrTime(now.AddDate(0, 0, -30)),
		LastMilestone: 7,
	}

	users := &mockUserLister{}
	users.On("ListUsersWithQuitDate", mock.Anything).Return([]*models.User{user}, nil)
	users.On("SetLastMilestone", mock.Anything, int64(10), 30).Return(nil).Once()

	posts := &mockPublisher{}
	posts.On("PublishMilestone", mock.Anything, user, 30).Return(int64(1), nil).Once()

	broker := &recordingBroker{}
	svc := New(newNoopLogger(), users, posts, nil, nil, broker, testSweeps())

	require.NoError(t, svc.MilestoneSweep(context.Background(), now))

	// После первого прохода маркер продвинут: повторный запуск не публикует.
	user.LastMilestone = 30
	require.NoError(t, svc.MilestoneSweep(context.Background(), now))
	posts.AssertNumberOfCalls(t, "PublishMilestone", 1)
}

func TestMilestoneSweep_MarkerNotAdvancedOnPublishFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC)
	user := &models.User{
		TelegramID: 10,
		QuitDate:   ptrTime(now.AddDate(0, 0, -7)),
	}

	users := &mockUserLister{}
	users.On("ListUsersWithQuitDate", mock.Anything).Return([]*models.User{user}, nil)

	posts := &mockPublisher{}
	posts.On("PublishMilestone", mock.Anything, user, 7).Return(int64(0), errors.New("telegram down"))

	svc := New(newNoopLogger(), users, posts, nil, nil, &recordingBroker{}, testSweeps())

	require.NoError(t, svc.MilestoneSweep(context.Background(), now))
	users.AssertNotCalled(t, "SetLastMilestone", mock.Anything, mock.Anything, mock.Anything)
}

func TestReminderSweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	users := &mockUserLister{}
	users.On("ListNotifiable", mock.Anything).Return([]*models.User{
		{TelegramID: 10, QuitDate: ptrTime(now.AddDate(0, 0, -12))},
		{TelegramID: 20},
	}, nil)

	broker := &recordingBroker{}
	svc := New(newNoopLogger(), users, nil, nil, nil, broker, testSweeps())

	require.NoError(t, svc.ReminderSweep(context.Background(), now))

	require.Len(t, broker.notices, 2)
	assert.Equal(t, []string{"reminder", "reminder"}, broker.keys)
	assert.Contains(t, broker.notices[0].Text, "День 12")
	assert.Contains(t, broker.notices[1].Text, "Доброе утро")

	// Все напоминания одного дня несут одну и ту же цитату.
	quote := testSweeps().Quotes[now.YearDay()%3]
	assert.Contains(t, broker.notices[0].Text, quote)
	assert.Contains(t, broker.notices[1].Text, quote)
}

func TestExpirySweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 1, 5, 0, 0, time.UTC)
	effects := []models.Effect{
		{Kind: models.EffectRemoveAccess, TelegramID: 10},
		{Kind: models.EffectSendDirect, TelegramID: 10, Text: "продли"},
		{Kind: models.EffectRemoveAccess, TelegramID: 20},
		{Kind: models.EffectSendDirect, TelegramID: 20, Text: "продли"},
	}

	members := &mockExpirer{}
	members.On("ExpireLapsed", mock.Anything, now).Return(effects, nil)

	revoker := &mockRevoker{}
	revoker.On("RemoveAccess", mock.Anything, int64(10)).Return(errors.New("telegram down"))
	revoker.On("RemoveAccess", mock.Anything, int64(20)).Return(nil)

	broker := &recordingBroker{}
	svc := New(newNoopLogger(), nil, nil, members, revoker, broker, testSweeps())

	require.NoError(t, svc.ExpirySweep(context.Background(), now))

	// Сбой выгона одного участника не мешает уведомлениям остальных.
	require.Len(t, broker.notices, 2)
	assert.Equal(t, []string{"renewal", "renewal"}, broker.keys)
	revoker.AssertExpectations(t)
}

func TestRunSweep_UnknownName(t *testing.T) {
	svc := New(newNoopLogger(), nil, nil, nil, nil, nil, testSweeps())
	err := svc.RunSweep(context.Background(), "vacuum", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sweep")
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"00:30", 30 * time.Minute, false},
		{"09:00", 9 * time.Hour, false},
		{"23:59", 23*time.Hour + 59*time.Minute, false},
		{"25:00", 0, true},
		{"nine", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseClock(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
