// Package health реализует проверку готовности сервиса.
package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/betrezv/trezv-club-bot/internal/http/response"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
)

// New возвращает обработчик GET /health.
func New(log *slog.Logger, storage *repository.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.health"

		if err := repository.CheckDatabaseReady(storage); err != nil {
			log.Error("storage is not ready", slog.String("op", op), sl.Err(err))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("storage is not ready"))
			return
		}
		render.JSON(w, r, response.StatusOKWithData("healthy"))
	}
}
