// Package sl содержит вспомогательные функции для логгера slog.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки, чтобы ошибки
// во всех сервисах клуба логировались одним и тем же полем.
func Err(err error) slog.Attr {
	return slog.String("error", err.Error())
}
