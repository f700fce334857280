package bot

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/http/handlers/health"
	"github.com/betrezv/trezv-club-bot/internal/http/handlers/paymentwebhook"
	"github.com/betrezv/trezv-club-bot/internal/http/handlers/sweeprun"
	"github.com/betrezv/trezv-club-bot/internal/http/middlewarectx"
	"github.com/betrezv/trezv-club-bot/internal/lib/jwt"
	membershipservice "github.com/betrezv/trezv-club-bot/internal/services/membership"
	schedulerservice "github.com/betrezv/trezv-club-bot/internal/services/scheduler"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
	"github.com/betrezv/trezv-club-bot/internal/telegram"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, db *repository.Storage,
	membershipService *membershipservice.Service, schedulerService *schedulerservice.Service,
	tg *telegram.Client, jwtMaker jwt.Maker, cfg *config.Config) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Webhook endpoint (подпись проверяет сам обработчик)
		r.Post("/payments/webhook", paymentwebhook.New(logger, membershipService, tg,
			cfg.Membership.WebhookSecret).ServeHTTP)

		// Операторские ручки под JWT
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/admin/sweeps/{job}", sweeprun.New(logger, schedulerService))
		})
	})

	r.Get("/health", health.New(logger, db))
	r.Handle("/metrics", promhttp.Handler())
}
