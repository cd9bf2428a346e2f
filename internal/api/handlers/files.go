// files.go — потоковые обработчики: срез исходного CSV и архив результата.
// Ошибки проверяются до начала передачи, после первого байта статус
// ответа уже отправлен и обрыв передачи только логируется.
package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/wfm-allocator/internal/api/errors"
)

// DownloadSlice — GET /api/v1/file-requests/{request_id}/slice.
// Отдаёт заголовок и строки выделенного диапазона.
// Первое скачивание переводит заявку assigned → in_progress.
func (h *APIHandler) DownloadSlice(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	d, err := h.slices.Open(r.Context(), c, id)
	if err != nil {
		h.fail(w, r, err, "Ошибка подготовки среза")
		return
	}
	defer d.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", attachment(d.FileName))
	w.Header().Set("X-Row-Range", fmt.Sprintf("%d-%d", d.Request.StartRow, d.Request.EndRow))
	w.WriteHeader(http.StatusOK)

	if _, err := d.WriteTo(w); err != nil {
		// Клиент получил часть среза, статус заявки уже обновлён
		h.logger.Debug("Передача среза оборвана",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// UploadArtifact — POST /api/v1/file-requests/{request_id}/artifact.
// Тело — поток байт архива, имя файла в query filename или заголовке
// X-File-Name, комментарий в query notes.
func (h *APIHandler) UploadArtifact(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	var notes *string
	if err := bindQuery(r, "notes", &notes); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	updated, err := h.artifacts.Upload(r.Context(), c, id, uploadFileName(r), notes, r.Body)
	if err != nil {
		h.fail(w, r, err, "Ошибка загрузки архива")
		return
	}
	writeJSON(w, http.StatusOK, toFileRequestResponse(updated))
}

// DownloadArtifact — GET /api/v1/file-requests/{request_id}/artifact.
func (h *APIHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "request_id")
	if !ok {
		return
	}

	a, err := h.artifacts.Open(r.Context(), c, id)
	if err != nil {
		h.fail(w, r, err, "Ошибка получения архива")
		return
	}
	defer a.Body.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(a.FileName))
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	if a.Checksum != "" {
		w.Header().Set("ETag", `"`+a.Checksum+`"`)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, a.Body); err != nil {
		h.logger.Debug("Передача архива оборвана",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// attachment формирует Content-Disposition с именем файла.
// Для не-ASCII имён mime использует кодирование RFC 2231.
func attachment(name string) string {
	if name == "" {
		name = "download"
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
