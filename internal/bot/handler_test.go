package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/betrezv/trezv-club-bot/internal/models"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
)

func TestParseReplyPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  int64
		wantOK  bool
	}{
		{"valid deep link", "reply_123", 123, true},
		{"surrounding spaces", "  reply_42  ", 42, true},
		{"plain start", "", 0, false},
		{"wrong prefix", "pay_123", 0, false},
		{"not a number", "reply_abc", 0, false},
		{"zero id", "reply_0", 0, false},
		{"negative id", "reply_-5", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := parseReplyPayload(tt.payload)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestStartReplyDeepLink(t *testing.T) {
	member := &models.User{ID: 1, TelegramID: 10}

	t.Run("active member gets the dialog", func(t *testing.T) {
		f := newHandlerFixtures()
		f.users.On("GetUserByTelegramID", mock.Anything, int64(10)).Return(member, nil)
		f.interactions.On("LivePost", mock.Anything, int64(100)).
			Return(&models.Post{ID: 100, ThreadID: 2}, nil)
		f.members.On("IsActive", mock.Anything, int64(10), mock.Anything).Return(true, nil)
		f.gateway.On("SendDirect", mock.Anything, int64(10),
			"Напиши ответ, я опубликую его под постом.").Return(true, nil)

		f.h.cmdStart(context.Background(), 10, "reply_100")

		p, ok := f.bridge.Take(10)
		require.True(t, ok)
		assert.Equal(t, int64(100), p.parentID)
	})

	t.Run("deleted post is reported, dialog stays closed", func(t *testing.T) {
		f := newHandlerFixtures()
		f.users.On("GetUserByTelegramID", mock.Anything, int64(10)).Return(member, nil)
		f.interactions.On("LivePost", mock.Anything, int64(100)).
			Return(nil, repository.ErrPostNotFound)
		f.gateway.On("SendDirect", mock.Anything, int64(10),
			"Этого поста уже нет: автор удалил его.").Return(true, nil)

		f.h.cmdStart(context.Background(), 10, "reply_100")

		_, ok := f.bridge.Take(10)
		assert.False(t, ok)
		f.gateway.AssertExpectations(t)
	})

	t.Run("lapsed member is sent to renewal", func(t *testing.T) {
		f := newHandlerFixtures()
		f.users.On("GetUserByTelegramID", mock.Anything, int64(10)).Return(member, nil)
		f.interactions.On("LivePost", mock.Anything, int64(100)).
			Return(&models.Post{ID: 100, ThreadID: 2}, nil)
		f.members.On("IsActive", mock.Anything, int64(10), mock.Anything).Return(false, nil)
		f.gateway.On("SendDirect", mock.Anything, int64(10),
			mock.MatchedBy(func(text string) bool {
				return strings.Contains(text, "https://pay.example/club")
			})).Return(true, nil)

		f.h.cmdStart(context.Background(), 10, "reply_100")

		_, ok := f.bridge.Take(10)
		assert.False(t, ok)
		f.gateway.AssertExpectations(t)
	})
}

func TestStart_TrialOfferRespectsCapacity(t *testing.T) {
	member := &models.User{ID: 1, TelegramID: 10}

	tests := []struct {
		name      string
		available bool
		wantText  string
	}{
		{"slots remain", true, "/trial"},
		{"cap exhausted", false, "Бесплатные места закончились"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixtures()
			f.users.On("GetUserByTelegramID", mock.Anything, int64(10)).Return(member, nil)
			f.members.On("Status", mock.Anything, int64(10), mock.Anything).
				Return(models.StateTrialEligible, nil)
			f.members.On("TrialAvailable", mock.Anything).Return(tt.available, nil)
			f.gateway.On("SendDirect", mock.Anything, int64(10),
				mock.MatchedBy(func(text string) bool {
					return strings.Contains(text, tt.wantText)
				})).Return(true, nil)

			f.h.cmdStart(context.Background(), 10, "")
			f.gateway.AssertExpectations(t)
		})
	}
}

func TestParseCallbackData(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantAction string
		wantID     int64
		wantOK     bool
	}{
		{"like", "like:555", "like", 555, true},
		{"reply", "reply:1", "reply", 1, true},
		{"support", "support:42", "support", 42, true},
		{"no separator", "like555", "", 0, false},
		{"garbage id", "like:what", "", 0, false},
		{"zero id", "like:0", "", 0, false},
		{"empty", "", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, id, ok := parseCallbackData(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
