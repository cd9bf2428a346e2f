// file_processes.go — обработчики /api/v1/file-processes.
// Создание процесса, загрузка исходного CSV, пауза и возобновление выдачи.
package handlers

import (
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/wfm-allocator/internal/api/errors"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/service"
)

// CreateFileProcess — POST /api/v1/file-processes.
// Доступ: manager, admin.
func (h *APIHandler) CreateFileProcess(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}

	var req createFileProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.processes.Create(r.Context(), c, service.CreateProcessParams{
		Name:        req.Name,
		ProjectID:   req.ProjectID,
		Type:        model.ProcessType(req.Type),
		HeaderRows:  req.HeaderRows,
		DailyTarget: req.DailyTarget,
	})
	if err != nil {
		h.fail(w, r, err, "Ошибка создания файлового процесса")
		return
	}
	writeJSON(w, http.StatusCreated, toFileProcessResponse(p))
}

// ListFileProcesses — GET /api/v1/file-processes.
func (h *APIHandler) ListFileProcesses(w http.ResponseWriter, r *http.Request) {
	f, limit, offset, ok := bindListFileProcessesParams(w, r)
	if !ok {
		return
	}

	items, total, err := h.processes.List(r.Context(), f, limit, offset)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения списка процессов")
		return
	}

	resp := fileProcessListResponse{
		Items:  make([]fileProcessResponse, 0, len(items)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, p := range items {
		resp.Items = append(resp.Items, toFileProcessResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFileProcess — GET /api/v1/file-processes/{process_id}.
func (h *APIHandler) GetFileProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "process_id")
	if !ok {
		return
	}

	p, err := h.processes.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения процесса")
		return
	}
	writeJSON(w, http.StatusOK, toFileProcessResponse(p))
}

// UploadSource — POST /api/v1/file-processes/{process_id}/source.
// Тело — поток байт CSV, имя файла в query filename или заголовке X-File-Name.
// Доступ: manager, admin.
func (h *APIHandler) UploadSource(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "process_id")
	if !ok {
		return
	}

	p, err := h.processes.UploadSource(r.Context(), c, id, uploadFileName(r), r.Body)
	if err != nil {
		h.fail(w, r, err, "Ошибка загрузки исходного файла")
		return
	}
	writeJSON(w, http.StatusOK, toFileProcessResponse(p))
}

// SetFileProcessStatus — POST /api/v1/file-processes/{process_id}/status.
// Тело: {"status": "paused" | "active"}. Доступ: manager, admin.
func (h *APIHandler) SetFileProcessStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "process_id")
	if !ok {
		return
	}

	var req processStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		apierrors.ValidationError(w, "Поле status обязательно")
		return
	}

	p, err := h.processes.SetStatus(r.Context(), c, id, model.ProcessStatus(req.Status))
	if err != nil {
		h.fail(w, r, err, "Ошибка изменения статуса процесса")
		return
	}
	writeJSON(w, http.StatusOK, toFileProcessResponse(p))
}

// uploadFileName возвращает имя загружаемого файла, переданное вне тела:
// query-параметр filename или заголовок X-File-Name.
func uploadFileName(r *http.Request) string {
	if name := strings.TrimSpace(r.URL.Query().Get("filename")); name != "" {
		return name
	}
	return strings.TrimSpace(r.Header.Get("X-File-Name"))
}
