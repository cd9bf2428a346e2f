// daily_counts.go — обработчики /api/v1/daily-counts.
package handlers

import (
	"net/http"
)

// ListDailyCounts — GET /api/v1/daily-counts.
// Агрегаты выработки с итогами. Исполнитель видит только свою выработку.
func (h *APIHandler) ListDailyCounts(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	f, ok := bindListDailyCountsParams(w, r)
	if !ok {
		return
	}

	rep, err := h.dailyCounts.List(r.Context(), c, f)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения выработки")
		return
	}
	writeJSON(w, http.StatusOK, toDailyCountListResponse(rep))
}

// SyncDailyCounts — POST /api/v1/daily-counts/sync.
// Пересчитывает approved-выработку пользователя по принятым заявкам.
// Пустой user_id — собственная выработка вызывающего.
func (h *APIHandler) SyncDailyCounts(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}

	var req syncRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.dailyCounts.Sync(r.Context(), c, req.UserID)
	if err != nil {
		h.fail(w, r, err, "Ошибка пересчёта выработки")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		UserID:    res.UserID,
		Removed:   res.Removed,
		Rows:      res.Rows,
		Requests:  res.Requests,
		Submitted: res.Submitted,
	})
}
