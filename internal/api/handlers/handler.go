// handler.go — основной обработчик API File Allocator.
// Объединяет доменные обработчики, регистрирует маршруты /api/v1
// и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/wfm-allocator/internal/api/errors"
	"github.com/bigkaa/wfm-allocator/internal/api/middleware"
	"github.com/bigkaa/wfm-allocator/internal/api/openapi"
	"github.com/bigkaa/wfm-allocator/internal/domain/rbac"
	"github.com/bigkaa/wfm-allocator/internal/service"
)

// Services — сервисы, которые обслуживает API.
type Services struct {
	Processes    *service.FileProcessService
	Requests     *service.FileRequestService
	Slices       *service.SliceService
	Artifacts    *service.ArtifactService
	Verification *service.VerificationService
	DailyCounts  *service.DailyCountService
}

// APIHandler — обработчик /api/v1.
type APIHandler struct {
	processes    *service.FileProcessService
	requests     *service.FileRequestService
	slices       *service.SliceService
	artifacts    *service.ArtifactService
	verification *service.VerificationService
	dailyCounts  *service.DailyCountService
	logger       *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
func NewAPIHandler(svc Services, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		processes:    svc.Processes,
		requests:     svc.Requests,
		slices:       svc.Slices,
		artifacts:    svc.Artifacts,
		verification: svc.Verification,
		dailyCounts:  svc.DailyCounts,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты /api/v1 в r.
// Аутентификация подключается снаружи: маршруты ожидают claims в контексте.
func (h *APIHandler) Routes(r chi.Router) {
	managerOnly := middleware.RequireRole(rbac.RoleManager)
	adminOnly := middleware.RequireRole(rbac.RoleAdmin)
	anyRole := middleware.RequireRole(rbac.RoleWorker)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(anyRole)

		r.Get("/openapi.yaml", openapi.ServeHTTP)

		r.Route("/file-processes", func(r chi.Router) {
			r.With(managerOnly).Post("/", h.CreateFileProcess)
			r.Get("/", h.ListFileProcesses)
			r.Get("/{process_id}", h.GetFileProcess)
			r.With(managerOnly).Post("/{process_id}/source", h.UploadSource)
			r.With(managerOnly).Post("/{process_id}/status", h.SetFileProcessStatus)
		})

		r.Route("/file-requests", func(r chi.Router) {
			r.Post("/", h.CreateFileRequest)
			r.Get("/", h.ListFileRequests)
			r.Get("/{request_id}", h.GetFileRequest)
			r.With(adminOnly).Put("/{request_id}", h.UpdateFileRequest)
			r.With(managerOnly).Post("/{request_id}/approve", h.ApproveFileRequest)
			r.Post("/{request_id}/status", h.UpdateFileRequestStatus)
			r.Get("/{request_id}/slice", h.DownloadSlice)
			r.Post("/{request_id}/artifact", h.UploadArtifact)
			r.Get("/{request_id}/artifact", h.DownloadArtifact)
			r.With(managerOnly).Post("/{request_id}/verify", h.VerifyFileRequest)
		})

		r.Get("/daily-counts", h.ListDailyCounts)
		r.Post("/daily-counts/sync", h.SyncDailyCounts)
	})
}

// caller извлекает вызывающего из контекста.
// При отсутствии claims пишет 401 и возвращает false.
func caller(w http.ResponseWriter, r *http.Request) (service.Caller, bool) {
	c, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return service.Caller{}, false
	}
	return c, true
}

// fail пишет ответ для ошибки сервисного слоя.
// Внутренние ошибки логируются с контекстом операции.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	if status, _ := apierrors.Classify(err); status == http.StatusInternalServerError {
		h.logger.Error(op,
			slog.String("http_request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromService(w, err, op)
}

// decodeJSON разбирает тело запроса. Неизвестные поля отклоняются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}
	if offset != nil && *offset > 0 {
		o = *offset
	}
	return l, o
}
