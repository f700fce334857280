package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateMember создает тестового участника и возвращает его внутренний id.
func (f *TestDataFactory) CreateMember(t *testing.T, telegramID int64, isMember bool, paidUntil *time.Time) int64 {
	t.Helper()
	pseudo := "member-" + strings.Split(uuid.New().String(), "-")[0]
	var id int64
	err := f.storage.DB.QueryRow(`INSERT INTO users
		(telegram_id, pseudo, avatar_emoji, is_member, paid_until)
		VALUES ($1, $2, '🦊', $3, $4) RETURNING id`,
		telegramID, pseudo, isMember, paidUntil).Scan(&id)
	require.NoError(t, err)
	return id
}

// SetQuit задает участнику дату отказа и маркер последней вехи.
func (f *TestDataFactory) SetQuit(t *testing.T, telegramID int64, quitDate time.Time, lastMilestone int) {
	t.Helper()
	_, err := f.storage.DB.Exec(`UPDATE users
		SET quit_date = $2, last_milestone = $3
		WHERE telegram_id = $1`,
		telegramID, quitDate, lastMilestone)
	require.NoError(t, err)
}

// CreateRootPost создает корневой пост с заданным id (message_id).
func (f *TestDataFactory) CreateRootPost(t *testing.T, id, authorID int64, threadID int, text string) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO posts (id, author_id, thread_id, text)
		VALUES ($1, $2, $3, $4)`,
		id, authorID, threadID, text)
	require.NoError(t, err)
}

// setupTestDatabase создает тестовую БД с контейнером PostgreSQL
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(nat.Port("5432/tcp")),
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(3*time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil && storage.DB.Ping() == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, err, "failed to create storage after retries")

	// Схема повторяет migrations/000001_init.up.sql
	_, err = storage.DB.Exec(`
		CREATE TABLE users (
			id BIGSERIAL PRIMARY KEY,
			telegram_id BIGINT NOT NULL UNIQUE,
			pseudo VARCHAR(30) NOT NULL DEFAULT '',
			avatar_emoji VARCHAR(8) NOT NULL DEFAULT '',
			quit_date DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_member BOOLEAN NOT NULL DEFAULT FALSE,
			notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_milestone INTEGER NOT NULL DEFAULT 0,
			paid_until TIMESTAMPTZ,
			trial_claimed BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE posts (
			id BIGINT PRIMARY KEY,
			author_id BIGINT NOT NULL REFERENCES users (id),
			thread_id INTEGER NOT NULL,
			parent_id BIGINT REFERENCES posts (id),
			text TEXT NOT NULL DEFAULT '',
			reply_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE post_likes (
			id BIGSERIAL PRIMARY KEY,
			post_id BIGINT NOT NULL REFERENCES posts (id),
			user_id BIGINT NOT NULL,
			CONSTRAINT ux_post_likes UNIQUE (post_id, user_id)
		);

		CREATE INDEX idx_posts_author_roots ON posts (author_id, created_at DESC)
			WHERE parent_id IS NULL AND deleted = FALSE;
		CREATE INDEX idx_posts_parent ON posts (parent_id);
		CREATE INDEX idx_users_lapsed ON users (paid_until) WHERE is_member = TRUE;
	`)
	require.NoError(t, err, "failed to create tables")

	cleanup := func() {
		if storage != nil && storage.DB != nil {
			_ = storage.DB.Close()
		}
		if pgContainer != nil {
			_ = pgContainer.Terminate(ctx)
		}
	}
	return storage, cleanup
}

// mustGetUser достает участника, падая при ошибке.
func mustGetUser(t *testing.T, storage *Storage, telegramID int64) *models.User {
	t.Helper()
	u, err := storage.GetUserByTelegramID(context.Background(), telegramID)
	require.NoError(t, err)
	return u
}

// assertTimeClose проверяет, что два момента отличаются не больше чем на минуту.
func assertTimeClose(t *testing.T, want, got time.Time) {
	t.Helper()
	diff := want.Sub(got)
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, time.Minute, fmt.Sprintf("want %s, got %s", want, got))
}
