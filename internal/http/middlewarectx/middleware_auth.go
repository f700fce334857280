// Package middlewarectx содержит HTTP middleware операторских ручек:
// проверку JWT токена и ограничение частоты запросов.
//
// JWTMiddleware проверяет наличие и валидность JWT токена в заголовке
// Authorization и пускает дальше только владельцев операторской роли.
// В случае ошибки проверки возвращает HTTP 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/betrezv/trezv-club-bot/internal/http/response"
	"github.com/betrezv/trezv-club-bot/internal/lib/jwt"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// Role — ключ для роли владельца токена в контексте
const Role Key = "role"

// JWTMiddleware возвращает HTTP middleware, который проверяет JWT в заголовке
// Authorization и требует операторскую роль.
func JWTMiddleware(maker jwt.Maker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := maker.ParseToken(tokenStr)
			if err != nil {
				log.Error("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			if claims.Role != jwt.RoleOperator {
				log.Error("token role is not allowed", slog.String("role", claims.Role))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("operator role required"))
				return
			}
			ctx := context.WithValue(r.Context(), Role, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
