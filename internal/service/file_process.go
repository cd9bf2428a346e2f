// Пакет service — бизнес-логика движка распределения файлов.
// file_process.go — файловые процессы: создание, загрузка исходного файла,
// приостановка выдачи строк.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
	"github.com/bigkaa/wfm-allocator/internal/storage/filestore"
	"github.com/bigkaa/wfm-allocator/internal/storage/linescan"
)

// SourceExtension — единственный поддерживаемый формат исходного файла.
const SourceExtension = ".csv"

// CreateProcessParams — параметры создания файлового процесса.
type CreateProcessParams struct {
	Name      string
	ProjectID string
	Type      model.ProcessType
	// HeaderRows — строки заголовка исходного файла
	HeaderRows  int
	DailyTarget *int
}

// FileProcessService — сервис файловых процессов.
type FileProcessService struct {
	store         repository.Store
	files         *filestore.FileStore
	cache         *IndexCache
	stride        int64
	maxSourceSize int64
	logger        *slog.Logger
}

// NewFileProcessService создаёт сервис файловых процессов.
// stride — шаг контрольных точек индекса (0 — без индекса).
func NewFileProcessService(
	store repository.Store,
	files *filestore.FileStore,
	cache *IndexCache,
	stride int64,
	maxSourceSize int64,
	logger *slog.Logger,
) *FileProcessService {
	return &FileProcessService{
		store:         store,
		files:         files,
		cache:         cache,
		stride:        stride,
		maxSourceSize: maxSourceSize,
		logger:        logger.With(slog.String("component", "file_process_service")),
	}
}

// Create создаёт файловый процесс в статусе pending. Только manager и выше.
func (s *FileProcessService) Create(ctx context.Context, caller Caller, params CreateProcessParams) (*model.FileProcess, error) {
	if !caller.IsManager() {
		return nil, fmt.Errorf("%w: создание процесса доступно менеджеру", ErrForbidden)
	}

	params.Name = strings.TrimSpace(params.Name)
	switch {
	case params.Name == "":
		return nil, fmt.Errorf("%w: name обязателен", ErrValidation)
	case strings.TrimSpace(params.ProjectID) == "":
		return nil, fmt.Errorf("%w: project_id обязателен", ErrValidation)
	case params.HeaderRows < 0:
		return nil, fmt.Errorf("%w: header_rows не может быть отрицательным", ErrValidation)
	case params.DailyTarget != nil && *params.DailyTarget < 0:
		return nil, fmt.Errorf("%w: daily_target не может быть отрицательным", ErrValidation)
	}
	if params.Type == "" {
		params.Type = model.ProcessTypeManual
	}
	if !params.Type.IsValid() {
		return nil, fmt.Errorf("%w: недопустимый тип процесса %q", ErrValidation, params.Type)
	}

	p := &model.FileProcess{
		ID:          uuid.New().String(),
		Name:        params.Name,
		ProjectID:   params.ProjectID,
		Type:        params.Type,
		Status:      model.ProcessPending,
		HeaderRows:  params.HeaderRows,
		DailyTarget: params.DailyTarget,
		CreatedBy:   caller.UserID,
	}
	if err := s.store.FileProcesses().Create(ctx, p); err != nil {
		return nil, fmt.Errorf("создание процесса: %w", err)
	}

	s.logger.Info("Файловый процесс создан",
		slog.String("process_id", p.ID),
		slog.String("project_id", p.ProjectID),
		slog.String("created_by", caller.UserID),
	)
	return p, nil
}

// Get возвращает файловый процесс по ID.
func (s *FileProcessService) Get(ctx context.Context, id string) (*model.FileProcess, error) {
	p, err := s.store.FileProcesses().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: процесс %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение процесса: %w", err)
	}
	return p, nil
}

// List возвращает процессы с фильтрацией и общее количество.
func (s *FileProcessService) List(ctx context.Context, f repository.ProcessFilter, limit, offset int) ([]*model.FileProcess, int, error) {
	items, err := s.store.FileProcesses().List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка процессов: %w", err)
	}
	total, err := s.store.FileProcesses().Count(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт процессов: %w", err)
	}
	return items, total, nil
}

// UploadSource принимает исходный CSV-файл процесса.
//
// Поток:
//  1. Проверка роли и расширения
//  2. Приём во временный файл с подсчётом строк и контрольных точек
//  3. Размещение в sources/<process_id>/
//  4. Сохранение сведений о файле (только пока строки не распределялись)
//  5. Удаление предыдущего исходного файла
//
// Повторная загрузка после начала распределения — ErrAlreadyProcessed:
// выданные диапазоны ссылаются на строки текущего файла.
func (s *FileProcessService) UploadSource(
	ctx context.Context, caller Caller, processID, fileName string, r io.Reader,
) (*model.FileProcess, error) {
	if !caller.IsManager() {
		return nil, fmt.Errorf("%w: загрузка исходного файла доступна менеджеру", ErrForbidden)
	}
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: не указано имя файла", ErrValidation)
	}
	if !strings.EqualFold(filepath.Ext(fileName), SourceExtension) {
		return nil, fmt.Errorf("%w: ожидается %s, получен %q", ErrUnsupportedFormat, SourceExtension, fileName)
	}

	p, err := s.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	if p.ProcessedRows > 0 {
		return nil, fmt.Errorf("%w: строки процесса %s уже распределяются", ErrAlreadyProcessed, p.ID)
	}

	counter := linescan.NewCounter(p.HeaderRows, s.stride)
	sp, err := s.files.Spool(r, s.maxSourceSize, counter)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
		}
		return nil, fmt.Errorf("приём исходного файла: %w", err)
	}
	defer sp.Discard()

	key := filestore.SourceKey(p.ID, fileName, caller.displayName())
	if err := s.files.Put(ctx, key, sp); err != nil {
		return nil, fmt.Errorf("размещение исходного файла: %w", err)
	}

	// Предыдущий путь читается под блокировкой строки процесса.
	var oldPath *string
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		cur, err := tx.FileProcesses().GetForUpdate(ctx, processID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: процесс %s", ErrNotFound, processID)
			}
			return fmt.Errorf("получение процесса: %w", err)
		}
		if cur.ProcessedRows > 0 {
			return fmt.Errorf("%w: строки процесса %s уже распределяются", ErrAlreadyProcessed, cur.ID)
		}

		oldPath = cur.StoragePath
		cur.SourceFileName = &fileName
		cur.StoragePath = &key
		cur.SourceSize = sp.Size
		cur.SourceChecksum = &sp.Checksum
		cur.TotalRows = counter.DataRows()
		cur.ProcessedRows = 0
		cur.Status = cur.ProgressStatus()

		if err := tx.FileProcesses().AttachSource(ctx, cur); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: строки процесса %s уже распределяются", ErrAlreadyProcessed, cur.ID)
			}
			return fmt.Errorf("сохранение исходного файла: %w", err)
		}
		p = cur
		return nil
	})
	if err != nil {
		if oldPath == nil || *oldPath != key {
			_ = s.files.Remove(ctx, key)
		}
		return nil, err
	}

	if oldPath != nil && *oldPath != "" && *oldPath != key {
		if err := s.files.Remove(ctx, *oldPath); err != nil {
			s.logger.Warn("Не удалось удалить предыдущий исходный файл",
				slog.String("process_id", p.ID),
				slog.String("path", *oldPath),
				slog.String("error", err.Error()),
			)
		}
	}
	s.cache.Set(key, counter.Index())

	s.logger.Info("Исходный файл загружен",
		slog.String("process_id", p.ID),
		slog.String("file_name", fileName),
		slog.Int64("size", p.SourceSize),
		slog.Int64("total_rows", p.TotalRows),
		slog.Int("header_rows", p.HeaderRows),
	)
	return p, nil
}

// SetStatus приостанавливает (paused) или возобновляет выдачу строк процесса.
// При возобновлении статус вычисляется по счётчикам.
func (s *FileProcessService) SetStatus(
	ctx context.Context, caller Caller, processID string, status model.ProcessStatus,
) (*model.FileProcess, error) {
	if !caller.IsManager() {
		return nil, fmt.Errorf("%w: изменение статуса процесса доступно менеджеру", ErrForbidden)
	}
	if status != model.ProcessPaused && status != model.ProcessActive {
		return nil, fmt.Errorf("%w: допустимые статусы — paused, active", ErrValidation)
	}

	var result *model.FileProcess
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		p, err := tx.FileProcesses().GetForUpdate(ctx, processID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: процесс %s", ErrNotFound, processID)
			}
			return fmt.Errorf("получение процесса: %w", err)
		}

		next := model.ProcessPaused
		if status == model.ProcessActive {
			p.Status = model.ProcessActive
			next = p.ProgressStatus()
		} else if p.Status == model.ProcessCompleted {
			return fmt.Errorf("%w: процесс %s завершён", ErrAlreadyProcessed, p.ID)
		}

		if err := tx.FileProcesses().UpdateStatus(ctx, p.ID, next); err != nil {
			return fmt.Errorf("обновление статуса процесса: %w", err)
		}
		p.Status = next
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Статус процесса изменён",
		slog.String("process_id", result.ID),
		slog.String("status", string(result.Status)),
		slog.String("changed_by", caller.UserID),
	)
	return result, nil
}
