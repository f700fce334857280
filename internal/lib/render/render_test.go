package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

func TestSobrietyDuration(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		quit *time.Time
		want string
	}{
		{"no quit date", nil, "ещё не начал"},
		{"same day", ptrTime(now), "0 дн."},
		{"three days", ptrTime(now.AddDate(0, 0, -3)), "3 дн."},
		{"one month", ptrTime(now.AddDate(0, 0, -30)), "1 мес."},
		{"month and days", ptrTime(now.AddDate(0, 0, -33)), "1 мес. 3 дн."},
		{"full combo", ptrTime(now.AddDate(0, 0, -(365 + 63))), "1 г. 2 мес. 3 дн."},
		{"future date clamps to zero", ptrTime(now.AddDate(0, 0, 5)), "0 дн."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SobrietyDuration(tt.quit, now))
		})
	}
}

func TestRepliesLabel(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0 ответов"},
		{1, "1 ответ"},
		{2, "2 ответа"},
		{4, "4 ответа"},
		{5, "5 ответов"},
		{11, "11 ответов"},
		{12, "12 ответов"},
		{21, "21 ответ"},
		{22, "22 ответа"},
		{100, "100 ответов"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RepliesLabel(tt.n))
	}
}

func TestPostBody(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	author := &models.User{
		Pseudo:      "тихий",
		AvatarEmoji: "🦊",
		QuitDate:    ptrTime(now.AddDate(0, 0, -3)),
	}

	body := PostBody("держусь", author, 2, now)

	assert.True(t, strings.HasPrefix(body, "держусь\n\n—\n"))
	assert.Contains(t, body, "🦊 тихий")
	assert.Contains(t, body, "3 дн.")
	assert.Contains(t, body, "2 ответа")
}

func TestReplyBody(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	author := &models.User{Pseudo: "тихий", AvatarEmoji: "🦊"}

	body := ReplyBody("держись", author, -1001234567890, 42, now)

	assert.Contains(t, body, "<a href='https://t.me/c/1234567890/42'>#42</a>")
	assert.Contains(t, body, "держись")
	assert.Contains(t, body, "🦊 тихий")
	assert.Contains(t, body, "ещё не начал")
}

func TestPostLink(t *testing.T) {
	assert.Equal(t, "https://t.me/c/1234567890/42", PostLink(-1001234567890, 42))
	// Идентификаторы без префикса -100 остаются как есть.
	assert.Equal(t, "https://t.me/c/987654/1", PostLink(987654, 1))
}

func TestDeepLink(t *testing.T) {
	assert.Equal(t, "https://t.me/club_bot?start=reply_42", DeepLink("club_bot", 42))
	assert.Equal(t, "https://t.me/club_bot?start=reply_42", DeepLink("@club_bot", 42))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short stays intact", "привет", 10, "привет"},
		{"exact limit", "привет", 6, "привет"},
		{"cuts by runes not bytes", "абвгдежзик", 5, "абвгд"},
		{"trims surrounding space", "  текст  ", 10, "текст"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.text, tt.limit))
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
