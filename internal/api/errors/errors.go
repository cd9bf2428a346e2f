// Пакет errors — ошибки HTTP API File Allocator.
// Формат ответа: {"error": {"code": "...", "message": "..."}}.
// Все handlers пишут ошибки только через WriteError и конструкторы пакета.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/wfm-allocator/internal/domain/lifecycle"
	"github.com/bigkaa/wfm-allocator/internal/service"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeSourceNotFound    = "SOURCE_NOT_FOUND"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeNoCapacity        = "NO_CAPACITY"
	CodeAlreadyProcessed  = "ALREADY_PROCESSED"
	CodeProcessPaused     = "PROCESS_PAUSED"
	CodeNotAllocated      = "NOT_ALLOCATED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — тело ответа с ошибкой.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает JSON-ответ с ошибкой.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Code: code, Message: message},
	})
}

// ValidationError — 400 Bad Request.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthorized — 401 Unauthorized.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 Forbidden.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// NotFound — 404 Not Found.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// InternalError — 500 Internal Server Error.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// mapping — соответствие ошибки сервисного слоя HTTP-статусу и коду.
type mapping struct {
	target error
	status int
	code   string
}

var serviceErrors = []mapping{
	{service.ErrValidation, http.StatusBadRequest, CodeValidationError},
	{service.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{service.ErrSourceNotFound, http.StatusNotFound, CodeSourceNotFound},
	{service.ErrFileNotFound, http.StatusNotFound, CodeFileNotFound},
	{service.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{service.ErrNoCapacity, http.StatusConflict, CodeNoCapacity},
	{service.ErrAlreadyProcessed, http.StatusConflict, CodeAlreadyProcessed},
	{service.ErrProcessPaused, http.StatusConflict, CodeProcessPaused},
	{service.ErrNotAllocated, http.StatusConflict, CodeNotAllocated},
	{service.ErrFileTooLarge, http.StatusRequestEntityTooLarge, CodeFileTooLarge},
	{service.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, CodeUnsupportedFormat},
}

// Classify возвращает HTTP-статус и код для ошибки сервисного слоя.
// Неизвестная ошибка — 500 INTERNAL_ERROR.
func Classify(err error) (status int, code string) {
	var te *lifecycle.TransitionError
	if stderrors.As(err, &te) {
		return http.StatusConflict, CodeInvalidTransition
	}
	for _, m := range serviceErrors {
		if stderrors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromService записывает ответ для ошибки сервисного слоя.
// Для внутренних ошибок текст не раскрывается, вместо него пишется fallback.
func FromService(w http.ResponseWriter, err error, fallback string) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError {
		WriteError(w, status, code, fallback)
		return
	}
	WriteError(w, status, code, err.Error())
}
