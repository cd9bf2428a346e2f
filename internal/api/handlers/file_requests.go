// file_requests.go — обработчики /api/v1/file-requests.
// Создание заявки, распределение диапазона, явный старт работы,
// проверка результата и административная корректировка.
package handlers

import (
	"fmt"
	"net/http"

	apierrors "github.com/bigkaa/wfm-allocator/internal/api/errors"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/service"
)

// CreateFileRequest — POST /api/v1/file-requests.
// Исполнитель создаёт заявку на себя, менеджер — на любого исполнителя.
func (h *APIHandler) CreateFileRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}

	var req createFileRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.requests.Create(r.Context(), c, service.CreateRequestParams{
		UserID:         req.UserID,
		FileProcessID:  req.FileProcessID,
		RequestedCount: req.RequestedCount,
		Notes:          req.Notes,
	})
	if err != nil {
		h.fail(w, r, err, "Ошибка создания заявки")
		return
	}
	writeJSON(w, http.StatusCreated, toFileRequestResponse(created))
}

// ListFileRequests — GET /api/v1/file-requests.
// Исполнитель видит только свои заявки.
func (h *APIHandler) ListFileRequests(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	f, limit, offset, ok := bindListFileRequestsParams(w, r)
	if !ok {
		return
	}

	items, total, err := h.requests.List(r.Context(), c, f, limit, offset)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения списка заявок")
		return
	}

	resp := fileRequestListResponse{
		Items:  make([]fileRequestResponse, 0, len(items)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, req := range items {
		resp.Items = append(resp.Items, toFileRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFileRequest — GET /api/v1/file-requests/{request_id}.
func (h *APIHandler) GetFileRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	req, err := h.requests.Get(r.Context(), c, id)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения заявки")
		return
	}
	writeJSON(w, http.StatusOK, toFileRequestResponse(req))
}

// UpdateFileRequest — PUT /api/v1/file-requests/{request_id}.
// Административная корректировка, диапазон строк не изменяется.
// Доступ: admin.
func (h *APIHandler) UpdateFileRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	var req updateFileRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params := service.AdminUpdateParams{
		Notes:             req.Notes,
		VerificationNotes: req.VerificationNotes,
		ClearCompletedAt:  req.ClearCompletedAt,
	}
	if req.Status != nil {
		st := model.RequestStatus(*req.Status)
		params.Status = &st
	}
	if req.VerificationStatus != nil {
		vs := model.VerificationStatus(*req.VerificationStatus)
		params.VerificationStatus = &vs
	}

	updated, err := h.requests.AdminUpdate(r.Context(), c, id, params)
	if err != nil {
		h.fail(w, r, err, "Ошибка корректировки заявки")
		return
	}
	writeJSON(w, http.StatusOK, toFileRequestResponse(updated))
}

// ApproveFileRequest — POST /api/v1/file-requests/{request_id}/approve.
// Распределяет следующий свободный диапазон строк процесса.
// Доступ: manager, admin.
func (h *APIHandler) ApproveFileRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	var req approveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	approved, err := h.requests.Approve(r.Context(), c, id, service.ApproveParams{
		AssignedCount: req.AssignedCount,
		ProcessID:     req.ProcessID,
		AssignedBy:    req.AssignedBy,
	})
	if err != nil {
		h.fail(w, r, err, "Ошибка распределения диапазона")
		return
	}
	writeJSON(w, http.StatusOK, toFileRequestResponse(approved))
}

// UpdateFileRequestStatus — POST /api/v1/file-requests/{request_id}/status.
// Явный перевод assigned → in_progress без скачивания среза.
func (h *APIHandler) UpdateFileRequestStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	var req requestStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if model.RequestStatus(req.Status) != model.RequestInProgress {
		apierrors.ValidationError(w, fmt.Sprintf("Допустим только статус %s, получен %q", model.RequestInProgress, req.Status))
		return
	}

	started, err := h.requests.Start(r.Context(), c, id)
	if err != nil {
		h.fail(w, r, err, "Ошибка обновления статуса заявки")
		return
	}
	writeJSON(w, http.StatusOK, toFileRequestResponse(started))
}

// VerifyFileRequest — POST /api/v1/file-requests/{request_id}/verify.
// Тело: {"action": "approve" | "reject", "notes": "..."}.
// Доступ: manager, admin.
func (h *APIHandler) VerifyFileRequest(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	verified, err := h.verification.Verify(r.Context(), c, id, service.VerifyAction(req.Action), req.Notes)
	if err != nil {
		h.fail(w, r, err, "Ошибка проверки результата")
		return
	}
	writeJSON(w, http.StatusOK, toFileRequestResponse(verified))
}
