// file_request.go — заявки на диапазоны строк: создание, распределение
// (Row-Range Allocator), явный старт работы, административная корректировка.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/wfm-allocator/internal/domain/allocation"
	"github.com/bigkaa/wfm-allocator/internal/domain/lifecycle"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
)

// CreateRequestParams — параметры создания заявки.
type CreateRequestParams struct {
	// UserID — исполнитель; пусто — вызывающий
	UserID         string
	FileProcessID  string
	RequestedCount int64
	Notes          *string
}

// ApproveParams — параметры распределения диапазона.
type ApproveParams struct {
	// AssignedCount — сколько строк выделить; 0 — requested_count заявки
	AssignedCount int64
	// ProcessID — ожидаемый процесс заявки (опционально)
	ProcessID string
	// AssignedBy — кто распределил; учитывается только для администратора
	AssignedBy string
}

// AdminUpdateParams — административная корректировка заявки.
// nil-поля не изменяются. Диапазон строк не корректируется.
type AdminUpdateParams struct {
	Status             *model.RequestStatus
	Notes              *string
	VerificationStatus *model.VerificationStatus
	VerificationNotes  *string
	// ClearCompletedAt — сбросить время первой сдачи результата
	ClearCompletedAt bool
}

// FileRequestService — сервис заявок на диапазоны строк.
type FileRequestService struct {
	store         repository.Store
	publicBaseURL string
	logger        *slog.Logger
}

// NewFileRequestService создаёт сервис заявок.
// publicBaseURL — префикс ссылок на скачивание среза (пусто — относительные).
func NewFileRequestService(store repository.Store, publicBaseURL string, logger *slog.Logger) *FileRequestService {
	return &FileRequestService{
		store:         store,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger.With(slog.String("component", "file_request_service")),
	}
}

// SliceLink возвращает ссылку на скачивание среза заявки.
func SliceLink(baseURL, requestID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/v1/file-requests/" + requestID + "/slice"
}

// Create создаёт заявку в статусе pending.
// Исполнитель создаёт заявку только на себя, менеджер — на любого.
// Если в процессе не осталось строк, заявка не создаётся (ErrNoCapacity).
func (s *FileRequestService) Create(ctx context.Context, caller Caller, params CreateRequestParams) (*model.FileRequest, error) {
	if params.UserID == "" {
		params.UserID = caller.UserID
	}
	if !caller.CanActFor(params.UserID) {
		return nil, fmt.Errorf("%w: заявку можно создать только на себя", ErrForbidden)
	}
	if params.RequestedCount <= 0 {
		return nil, fmt.Errorf("%w: requested_count должен быть положительным", ErrValidation)
	}
	if params.FileProcessID == "" {
		return nil, fmt.Errorf("%w: file_process_id обязателен", ErrValidation)
	}

	p, err := s.store.FileProcesses().GetByID(ctx, params.FileProcessID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: процесс %s", ErrNotFound, params.FileProcessID)
		}
		return nil, fmt.Errorf("получение процесса: %w", err)
	}
	if p.Status == model.ProcessPaused {
		return nil, fmt.Errorf("%w: %s", ErrProcessPaused, p.ID)
	}
	if allocation.Remaining(p.TotalRows, p.ProcessedRows) == 0 {
		return nil, fmt.Errorf("%w: в процессе %s не осталось строк", ErrNoCapacity, p.ID)
	}

	req := &model.FileRequest{
		ID:                 uuid.New().String(),
		UserID:             params.UserID,
		FileProcessID:      p.ID,
		ProjectID:          p.ProjectID,
		RequestedCount:     params.RequestedCount,
		Status:             model.RequestPending,
		VerificationStatus: model.VerificationNone,
		Notes:              params.Notes,
	}
	if err := s.store.FileRequests().Create(ctx, req); err != nil {
		return nil, fmt.Errorf("создание заявки: %w", err)
	}

	s.logger.Info("Заявка создана",
		slog.String("request_id", req.ID),
		slog.String("user_id", req.UserID),
		slog.String("process_id", req.FileProcessID),
		slog.Int64("requested_count", req.RequestedCount),
	)
	return req, nil
}

// Get возвращает заявку, доступную вызывающему.
func (s *FileRequestService) Get(ctx context.Context, caller Caller, id string) (*model.FileRequest, error) {
	return getRequest(ctx, s.store, caller, id)
}

// List возвращает заявки с фильтрацией.
// Исполнитель видит только свои заявки.
func (s *FileRequestService) List(
	ctx context.Context, caller Caller, f repository.RequestFilter, limit, offset int,
) ([]*model.FileRequest, int, error) {
	if !caller.IsManager() {
		if f.UserID != nil && *f.UserID != caller.UserID {
			return nil, 0, fmt.Errorf("%w: доступны только собственные заявки", ErrForbidden)
		}
		uid := caller.UserID
		f.UserID = &uid
	}

	items, err := s.store.FileRequests().List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка заявок: %w", err)
	}
	total, err := s.store.FileRequests().Count(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт заявок: %w", err)
	}
	return items, total, nil
}

// Approve распределяет заявке следующий свободный диапазон строк.
//
// В одной транзакции: блокировка заявки и процесса, вычисление диапазона
// от processed_rows, сравнение с увеличением processed_rows, запись
// диапазона в заявку. Заявка не в pending — ErrAlreadyProcessed.
func (s *FileRequestService) Approve(
	ctx context.Context, caller Caller, requestID string, params ApproveParams,
) (*model.FileRequest, error) {
	if !caller.IsManager() {
		return nil, fmt.Errorf("%w: распределение доступно менеджеру", ErrForbidden)
	}
	if params.AssignedCount < 0 {
		return nil, fmt.Errorf("%w: assigned_count не может быть отрицательным", ErrValidation)
	}
	assignedBy := caller.UserID
	if params.AssignedBy != "" && caller.IsAdmin() {
		assignedBy = params.AssignedBy
	}

	var result *model.FileRequest
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		req, err := tx.FileRequests().GetForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: заявка %s", ErrNotFound, requestID)
			}
			return fmt.Errorf("получение заявки: %w", err)
		}
		if req.Status != model.RequestPending {
			return fmt.Errorf("%w: заявка %s в статусе %s", ErrAlreadyProcessed, req.ID, req.Status)
		}
		if params.ProcessID != "" && params.ProcessID != req.FileProcessID {
			return fmt.Errorf("%w: заявка %s относится к процессу %s", ErrValidation, req.ID, req.FileProcessID)
		}

		count := req.RequestedCount
		if params.AssignedCount > 0 {
			if params.AssignedCount > req.RequestedCount {
				return fmt.Errorf("%w: assigned_count %d больше запрошенного %d",
					ErrValidation, params.AssignedCount, req.RequestedCount)
			}
			count = params.AssignedCount
		}

		p, err := tx.FileProcesses().GetForUpdate(ctx, req.FileProcessID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: процесс %s", ErrNotFound, req.FileProcessID)
			}
			return fmt.Errorf("получение процесса: %w", err)
		}
		if p.Status == model.ProcessPaused {
			return fmt.Errorf("%w: %s", ErrProcessPaused, p.ID)
		}

		rng, err := allocation.Next(p.TotalRows, p.ProcessedRows, count)
		if err != nil {
			if errors.Is(err, allocation.ErrNoCapacity) {
				return fmt.Errorf("%w: %v", ErrNoCapacity, err)
			}
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := lifecycle.Check(req.Status, model.RequestAssigned, lifecycle.TriggerAllocate); err != nil {
			return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
		}

		if err := tx.FileProcesses().AdvanceProcessed(ctx, p, rng.AssignedCount); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
			}
			return fmt.Errorf("обновление счётчиков процесса: %w", err)
		}

		now := time.Now().UTC()
		link := SliceLink(s.publicBaseURL, req.ID)
		req.AssignedCount, req.StartRow, req.EndRow = rng.AssignedCount, rng.StartRow, rng.EndRow
		req.AssignedBy = &assignedBy
		req.AssignedAt = &now
		req.DownloadLink = &link
		if err := tx.FileRequests().Assign(ctx, req); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
			}
			return fmt.Errorf("распределение заявки: %w", err)
		}

		result = req
		return nil
	})
	if err != nil {
		allocationsTotal.WithLabelValues(allocationResult(err)).Inc()
		return nil, err
	}

	allocationsTotal.WithLabelValues(resultOK).Inc()
	allocatedRowsTotal.Add(float64(result.AssignedCount))
	s.logger.Info("Диапазон распределён",
		slog.String("request_id", result.ID),
		slog.String("process_id", result.FileProcessID),
		slog.String("user_id", result.UserID),
		slog.Int64("start_row", result.StartRow),
		slog.Int64("end_row", result.EndRow),
		slog.Int64("assigned_count", result.AssignedCount),
		slog.String("assigned_by", assignedBy),
	)
	return result, nil
}

// allocationResult — значение метки result для ошибки распределения.
func allocationResult(err error) string {
	switch {
	case errors.Is(err, ErrNoCapacity), errors.Is(err, ErrValidation), errors.Is(err, ErrProcessPaused):
		return resultRejected
	case errors.Is(err, ErrAlreadyProcessed):
		return resultConflict
	default:
		return resultError
	}
}

// Start переводит заявку из assigned в in_progress без скачивания среза.
// Повторный вызов для заявки в in_progress ничего не меняет. Заявка,
// успевшая перейти дальше до начала транзакции, — ErrAlreadyProcessed.
func (s *FileRequestService) Start(ctx context.Context, caller Caller, requestID string) (*model.FileRequest, error) {
	req, err := getRequest(ctx, s.store, caller, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == model.RequestInProgress {
		return req, nil
	}
	if err := lifecycle.Check(req.Status, model.RequestInProgress, lifecycle.TriggerStart); err != nil {
		return nil, err
	}

	req, changed, err := markStarted(ctx, s.store, requestID, false)
	if err != nil {
		return nil, err
	}
	if !changed {
		if req.Status == model.RequestInProgress {
			return req, nil
		}
		return nil, fmt.Errorf("%w: заявка %s в статусе %s", ErrAlreadyProcessed, req.ID, req.Status)
	}
	s.logger.Info("Работа по заявке начата",
		slog.String("request_id", req.ID),
		slog.String("started_by", caller.UserID),
	)
	return req, nil
}

// AdminUpdate — административная корректировка полей заявки.
// Обходит таблицу переходов, но не возвращает распределённую заявку
// в pending/assigned и не изменяет диапазон и счётчики.
func (s *FileRequestService) AdminUpdate(
	ctx context.Context, caller Caller, requestID string, params AdminUpdateParams,
) (*model.FileRequest, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: корректировка доступна администратору", ErrForbidden)
	}
	if params.VerificationStatus != nil && !params.VerificationStatus.IsValid() {
		return nil, fmt.Errorf("%w: недопустимый verification_status %q", ErrValidation, *params.VerificationStatus)
	}

	var result *model.FileRequest
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		req, err := tx.FileRequests().GetForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: заявка %s", ErrNotFound, requestID)
			}
			return fmt.Errorf("получение заявки: %w", err)
		}

		prev := req.Status
		if params.Status != nil {
			if err := lifecycle.CheckCorrection(prev, *params.Status); err != nil {
				return err
			}
			req.Status = *params.Status
		}
		if params.Notes != nil {
			req.Notes = params.Notes
		}
		if params.VerificationStatus != nil {
			req.VerificationStatus = *params.VerificationStatus
		}
		if params.VerificationNotes != nil {
			req.VerificationNotes = params.VerificationNotes
		}
		if params.ClearCompletedAt {
			req.CompletedAt = nil
		}

		if err := tx.FileRequests().Update(ctx, req, prev); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
			}
			return fmt.Errorf("обновление заявки: %w", err)
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Административная корректировка заявки",
		slog.String("request_id", result.ID),
		slog.String("status", string(result.Status)),
		slog.String("admin", caller.UserID),
	)
	return result, nil
}

// getRequest читает заявку и проверяет доступ вызывающего.
func getRequest(ctx context.Context, store repository.Store, caller Caller, id string) (*model.FileRequest, error) {
	req, err := store.FileRequests().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: заявка %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("получение заявки: %w", err)
	}
	if !caller.CanAccess(req) {
		return nil, fmt.Errorf("%w: заявка %s принадлежит другому исполнителю", ErrForbidden, id)
	}
	return req, nil
}

// markStarted в короткой транзакции переводит заявку assigned → in_progress
// и при download отмечает время первого скачивания. Заявка в другом статусе
// не меняется; changed сообщает, была ли заявка сохранена.
func markStarted(
	ctx context.Context, store repository.Store, requestID string, download bool,
) (req *model.FileRequest, changed bool, err error) {
	err = store.InTx(ctx, func(tx repository.Store) error {
		cur, err := tx.FileRequests().GetForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: заявка %s", ErrNotFound, requestID)
			}
			return fmt.Errorf("получение заявки: %w", err)
		}
		req = cur
		prev := cur.Status

		now := time.Now().UTC()
		if download && cur.FirstDownloadedAt == nil && lifecycle.IsAllocated(prev) {
			cur.FirstDownloadedAt = &now
			changed = true
		}
		if prev == model.RequestAssigned {
			if err := lifecycle.Check(prev, model.RequestInProgress, lifecycle.TriggerStart); err != nil {
				return err
			}
			cur.Status = model.RequestInProgress
			changed = true
		}
		if !changed {
			return nil
		}
		if err := tx.FileRequests().Update(ctx, cur, prev); err != nil {
			return fmt.Errorf("обновление заявки: %w", err)
		}
		return nil
	})
	return req, changed, err
}
