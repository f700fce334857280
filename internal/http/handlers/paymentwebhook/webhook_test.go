package paymentwebhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/betrezv/trezv-club-bot/internal/models"
	"github.com/betrezv/trezv-club-bot/internal/services/membership"
)

const testSecret = "webhook-secret"

type mockService struct {
	mock.Mock
}

func (m *mockService) ApplyPayment(ctx context.Context, event membership.PaymentEvent, now time.Time) ([]models.Effect, error) {
	args := m.Called(ctx, event, now)
	if e := args.Get(0); e != nil {
		return e.([]models.Effect), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOneTimeInviteLink(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) SendDirect(ctx context.Context, telegramID int64, html string) (bool, error) {
	args := m.Called(ctx, telegramID, html)
	return args.Bool(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func doRequest(t *testing.T, h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Api-Signature", signature)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServeHTTP_NewSubscription(t *testing.T) {
	body := []byte(`{"name":"new_subscription","payload":{"telegram_user_id":42}}`)

	service := &mockService{}
	service.On("ApplyPayment", mock.Anything,
		membership.PaymentEvent{TelegramID: 42}, mock.Anything).
		Return([]models.Effect{{Kind: models.EffectInviteLink, TelegramID: 42}}, nil)

	gateway := &mockGateway{}
	gateway.On("CreateOneTimeInviteLink", mock.Anything).
		Return("https://t.me/+abcdef", nil)
	gateway.On("SendDirect", mock.Anything, int64(42),
		mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "https://t.me/+abcdef")
		})).
		Return(true, nil)

	h := New(newNoopLogger(), service, gateway, testSecret)
	rr := doRequest(t, h, body, sign(body))

	assert.Equal(t, http.StatusOK, rr.Code)
	service.AssertExpectations(t)
	gateway.AssertExpectations(t)
}

func TestServeHTTP_ExplicitWindowEnd(t *testing.T) {
	body := []byte(`{"name":"subscription_renewed","payload":{"telegram_user_id":42,"expires_at":"2025-07-01T00:00:00Z"}}`)
	until := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	service := &mockService{}
	service.On("ApplyPayment", mock.Anything,
		mock.MatchedBy(func(event membership.PaymentEvent) bool {
			return event.TelegramID == 42 && event.WindowEnd != nil && event.WindowEnd.Equal(until)
		}), mock.Anything).
		Return(nil, nil)

	h := New(newNoopLogger(), service, &mockGateway{}, testSecret)
	rr := doRequest(t, h, body, sign(body))

	assert.Equal(t, http.StatusOK, rr.Code)
	service.AssertExpectations(t)
}

func TestServeHTTP_BadSignature(t *testing.T) {
	body := []byte(`{"name":"new_subscription","payload":{"telegram_user_id":42}}`)
	service := &mockService{}

	h := New(newNoopLogger(), service, &mockGateway{}, testSecret)

	rr := doRequest(t, h, body, "not-a-signature")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, h, body, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	service.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestServeHTTP_UnknownEventIsAcknowledged(t *testing.T) {
	body := []byte(`{"name":"payout_created","payload":{"telegram_user_id":42}}`)
	service := &mockService{}

	h := New(newNoopLogger(), service, &mockGateway{}, testSecret)
	rr := doRequest(t, h, body, sign(body))

	// Незнакомое событие подтверждается, иначе провайдер будет повторять.
	assert.Equal(t, http.StatusOK, rr.Code)
	service.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestServeHTTP_InvalidBody(t *testing.T) {
	body := []byte(`{broken`)
	h := New(newNoopLogger(), &mockService{}, &mockGateway{}, testSecret)

	rr := doRequest(t, h, body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeHTTP_MissingUserID(t *testing.T) {
	body := []byte(`{"name":"new_subscription","payload":{}}`)
	service := &mockService{}

	h := New(newNoopLogger(), service, &mockGateway{}, testSecret)
	rr := doRequest(t, h, body, sign(body))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	service.AssertNotCalled(t, "ApplyPayment", mock.Anything, mock.Anything, mock.Anything)
}
