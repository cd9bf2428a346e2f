// slice.go — скачивание среза исходного файла по диапазону заявки.
//
// Open выполняет все проверки и переход assigned → in_progress до начала
// передачи данных; транзакция не удерживается на время потоковой передачи.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/wfm-allocator/internal/domain/lifecycle"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
	"github.com/bigkaa/wfm-allocator/internal/storage/filestore"
	"github.com/bigkaa/wfm-allocator/internal/storage/linescan"
)

// SliceService — сервис скачивания срезов.
type SliceService struct {
	store  repository.Store
	files  *filestore.FileStore
	cache  *IndexCache
	stride int64
	logger *slog.Logger
}

// NewSliceService создаёт сервис скачивания срезов.
func NewSliceService(
	store repository.Store,
	files *filestore.FileStore,
	cache *IndexCache,
	stride int64,
	logger *slog.Logger,
) *SliceService {
	return &SliceService{
		store:  store,
		files:  files,
		cache:  cache,
		stride: stride,
		logger: logger.With(slog.String("component", "slice_service")),
	}
}

// SliceDownload — подготовленный к передаче срез.
// Вызывающий обязан закрыть его через Close.
type SliceDownload struct {
	// FileName — детерминированное имя файла среза
	FileName string
	// Request — заявка после перехода в in_progress
	Request *model.FileRequest
	// Started — этим скачиванием заявка переведена в in_progress
	Started bool
	// Stats — итог передачи, заполняется WriteTo
	Stats linescan.Stats

	src      *os.File
	cacheKey string
	opts     linescan.Options
	svc      *SliceService
}

// SliceFileName возвращает имя файла среза: исполнитель, процесс и диапазон.
func SliceFileName(req *model.FileRequest) string {
	return fmt.Sprintf("%s_%s_%d-%d%s",
		filestore.Sanitize(req.UserID), filestore.Sanitize(req.FileProcessID),
		req.StartRow, req.EndRow, SourceExtension)
}

// Open проверяет доступ и исходный файл, фиксирует начало работы
// по заявке и возвращает срез, готовый к передаче.
func (s *SliceService) Open(ctx context.Context, caller Caller, requestID string) (*SliceDownload, error) {
	req, err := getRequest(ctx, s.store, caller, requestID)
	if err != nil {
		return nil, s.fail(err)
	}
	if !lifecycle.IsAllocated(req.Status) || req.AssignedCount <= 0 {
		return nil, s.fail(fmt.Errorf("%w: заявка %s в статусе %s", ErrNotAllocated, req.ID, req.Status))
	}

	p, err := s.store.FileProcesses().GetByID(ctx, req.FileProcessID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.fail(fmt.Errorf("%w: процесс %s", ErrNotFound, req.FileProcessID))
		}
		return nil, s.fail(fmt.Errorf("получение процесса: %w", err))
	}
	if !p.HasSource() {
		s.logger.Warn("Исходный файл процесса не загружен, но строки распределены",
			slog.String("process_id", p.ID),
			slog.String("request_id", req.ID),
		)
		return nil, s.fail(fmt.Errorf("%w: процесс %s", ErrSourceNotFound, p.ID))
	}
	if !strings.EqualFold(filepath.Ext(*p.StoragePath), SourceExtension) {
		return nil, s.fail(fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(*p.StoragePath)))
	}

	src, err := s.files.Open(*p.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotExist) {
			s.logger.Warn("Исходный файл отсутствует в хранилище",
				slog.String("process_id", p.ID),
				slog.String("path", *p.StoragePath),
			)
			return nil, s.fail(fmt.Errorf("%w: %s", ErrSourceNotFound, *p.StoragePath))
		}
		return nil, s.fail(fmt.Errorf("открытие исходного файла: %w", err))
	}

	wasAssigned := req.Status == model.RequestAssigned
	updated, _, err := markStarted(ctx, s.store, req.ID, true)
	if err != nil {
		src.Close()
		return nil, s.fail(err)
	}

	d := &SliceDownload{
		FileName: SliceFileName(updated),
		Request:  updated,
		Started:  wasAssigned && updated.Status == model.RequestInProgress,
		src:      src,
		cacheKey: *p.StoragePath,
		svc:      s,
	}
	ix, _ := s.cache.Get(d.cacheKey)
	d.opts = linescan.Options{
		HeaderRows: p.HeaderRows,
		Start:      updated.StartRow,
		End:        updated.EndRow,
		Index:      ix,
		Stride:     s.stride,
	}
	if d.Started {
		s.logger.Info("Заявка переведена в in_progress первым скачиванием",
			slog.String("request_id", updated.ID),
			slog.String("user_id", updated.UserID),
		)
	}
	return d, nil
}

// fail учитывает неуспешное скачивание в метриках.
func (s *SliceService) fail(err error) error {
	sliceDownloadsTotal.WithLabelValues(resultRejected).Inc()
	return err
}

// WriteTo передаёт заголовок и строки диапазона в w.
// Контрольные точки, встреченные при чтении, добавляются в кэш.
func (d *SliceDownload) WriteTo(w io.Writer) (int64, error) {
	stats, err := linescan.Extract(d.src, w, d.opts)
	d.Stats = stats
	d.svc.cache.Merge(d.cacheKey, d.opts.HeaderRows, stats.Checkpoints)
	sliceRowsStreamedTotal.Add(float64(stats.DataLines))

	logger := d.svc.logger.With(
		slog.String("request_id", d.Request.ID),
		slog.Int64("start_row", d.opts.Start),
		slog.Int64("end_row", d.opts.End),
		slog.Int64("data_lines", stats.DataLines),
		slog.Int64("bytes", stats.Bytes),
		slog.Bool("seeked", stats.Seeked),
	)
	if err != nil {
		sliceDownloadsTotal.WithLabelValues(resultError).Inc()
		logger.Warn("Передача среза прервана", slog.String("error", err.Error()))
		return stats.Bytes, err
	}

	sliceDownloadsTotal.WithLabelValues(resultOK).Inc()
	if expected := d.opts.End - d.opts.Start + 1; stats.DataLines != expected {
		logger.Warn("Исходный файл короче выделенного диапазона",
			slog.Int64("expected_lines", expected),
		)
	} else {
		logger.Debug("Срез передан")
	}
	return stats.Bytes, nil
}

// Close закрывает исходный файл.
func (d *SliceDownload) Close() error {
	return d.src.Close()
}
