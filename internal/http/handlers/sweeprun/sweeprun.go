// Package sweeprun реализует операторскую ручку ручного запуска обхода.
// Обходы идемпотентны, поэтому ручной запуск поверх расписания безопасен.
package sweeprun

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/betrezv/trezv-club-bot/internal/http/response"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/services/scheduler"
)

// Service запускает один обход по имени.
type Service interface {
	RunSweep(ctx context.Context, name string, now time.Time) error
}

// New возвращает обработчик POST /admin/sweeps/{job}.
func New(log *slog.Logger, service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sweeprun"
		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		job := chi.URLParam(r, "job")
		if err := service.RunSweep(r.Context(), job, time.Now().UTC()); err != nil {
			if errors.Is(err, scheduler.ErrUnknownSweep) {
				log.Error("unknown sweep requested", slog.String("job", job))
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("unknown sweep"))
				return
			}
			log.Error("sweep failed", slog.String("job", job), sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("sweep failed"))
			return
		}

		log.Info("sweep finished", slog.String("job", job))
		render.JSON(w, r, response.StatusOKWithData(map[string]string{"job": job}))
	}
}
