// Package response формирует унифицированные JSON-ответы HTTP-обработчиков:
// вебхука оплаты и операторских ручек.
package response

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"
)

const (
	// StatusOK значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// Response стандартная структура JSON-ответа сервера.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse структура ответа с ошибкой.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{Status: StatusOK, Data: data}
}

// Error возвращает ответ с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{Status: StatusError, Error: msg}
}

// ValidationError собирает нарушения валидации в один человеко-читаемый
// текст через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var msgs []string
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "numeric":
			msgs = append(msgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return Response{Status: StatusError, Error: strings.Join(msgs, ", ")}
}
