package middlewarectx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betrezv/trezv-club-bot/internal/lib/jwt"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJWTMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker("test-secret", time.Hour)
	operatorToken, err := maker.GenerateToken(jwt.RoleOperator)
	require.NoError(t, err)
	strangerToken, err := maker.GenerateToken("viewer")
	require.NoError(t, err)

	expiredMaker := jwt.NewJWTMaker("test-secret", -time.Hour)
	expiredToken, err := expiredMaker.GenerateToken(jwt.RoleOperator)
	require.NoError(t, err)

	foreignMaker := jwt.NewJWTMaker("other-secret", time.Hour)
	foreignToken, err := foreignMaker.GenerateToken(jwt.RoleOperator)
	require.NoError(t, err)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantNext   bool
	}{
		{
			name:       "valid operator token passes",
			authHeader: "Bearer " + operatorToken,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not a bearer scheme",
			authHeader: "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + expiredToken,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "token signed with another key",
			authHeader: "Bearer " + foreignToken,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong role",
			authHeader: "Bearer " + strangerToken,
			wantStatus: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				assert.Equal(t, jwt.RoleOperator, r.Context().Value(Role))
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/admin/sweeps/milestone", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			JWTMiddleware(maker, newNoopLogger())(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantNext, nextCalled)
		})
	}
}
