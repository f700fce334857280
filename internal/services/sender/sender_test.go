package sender

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

type mockDirectSender struct {
	mock.Mock
}

func (m *mockDirectSender) SendDirect(ctx context.Context, telegramID int64, html string) (bool, error) {
	args := m.Called(ctx, telegramID, html)
	return args.Bool(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encode(t *testing.T, notice models.Notice) []byte {
	t.Helper()
	body, err := json.Marshal(notice)
	require.NoError(t, err)
	return body
}

func TestHandler(t *testing.T) {
	notice := models.Notice{TelegramID: 10, Kind: "reminder", Text: "☀️ День 12."}

	tests := []struct {
		name       string
		body       []byte
		setupMocks func(gw *mockDirectSender)
		wantErr    bool
	}{
		{
			name: "delivered",
			body: encode(t, notice),
			setupMocks: func(gw *mockDirectSender) {
				gw.On("SendDirect", mock.Anything, int64(10), "☀️ День 12.").
					Return(true, nil)
			},
		},
		{
			name: "closed direct messages are not requeued",
			body: encode(t, notice),
			setupMocks: func(gw *mockDirectSender) {
				gw.On("SendDirect", mock.Anything, int64(10), mock.Anything).
					Return(false, nil)
			},
		},
		{
			name: "transport error goes back to the queue",
			body: encode(t, notice),
			setupMocks: func(gw *mockDirectSender) {
				gw.On("SendDirect", mock.Anything, int64(10), mock.Anything).
					Return(false, errors.New("timeout"))
			},
			wantErr: true,
		},
		{
			name:       "garbage is dropped",
			body:       []byte("{not json"),
			setupMocks: func(gw *mockDirectSender) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockDirectSender{}
			tt.setupMocks(gw)
			svc := New(newNoopLogger(), gw)

			err := svc.Handler(context.Background())(tt.body)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			gw.AssertExpectations(t)
		})
	}
}
