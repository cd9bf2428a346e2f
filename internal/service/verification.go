// verification.go — проверка результата и учёт дневной выработки
// (Counter Reconciliation).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/wfm-allocator/internal/domain/lifecycle"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
)

// VerifyAction — решение проверяющего.
type VerifyAction string

const (
	VerifyApprove VerifyAction = "approve"
	VerifyReject  VerifyAction = "reject"
)

// VerificationService — сервис проверки результатов.
type VerificationService struct {
	store  repository.Store
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewVerificationService создаёт сервис проверки.
// loc — часовой пояс, в котором определяется дата дневной выработки.
func NewVerificationService(store repository.Store, loc *time.Location, logger *slog.Logger) *VerificationService {
	if loc == nil {
		loc = time.UTC
	}
	return &VerificationService{
		store:  store,
		loc:    loc,
		now:    time.Now,
		logger: logger.With(slog.String("component", "verification_service")),
	}
}

// Verify принимает или отклоняет результат заявки в статусе in_review.
//
// approve: completed, verification approved, approved-выработка за сегодня
// увеличивается на assigned_count.
// reject: rework, verification rejected, rework_count+1, rejected-запись
// выработки для аудита; approved-итоги и счётчики процесса не меняются.
//
// Изменение заявки и выработки выполняется в одной транзакции
// под блокировкой выработки пользователя.
// Заявка не в in_review — ErrAlreadyProcessed.
func (s *VerificationService) Verify(
	ctx context.Context, caller Caller, requestID string, action VerifyAction, notes *string,
) (*model.FileRequest, error) {
	if !caller.IsManager() {
		return nil, fmt.Errorf("%w: проверка доступна менеджеру", ErrForbidden)
	}

	var (
		trigger     lifecycle.Trigger
		verdict     model.VerificationStatus
		countStatus model.DailyCountStatus
	)
	switch action {
	case VerifyApprove:
		trigger, verdict, countStatus = lifecycle.TriggerApprove, model.VerificationApproved, model.DailyCountApproved
	case VerifyReject:
		trigger, verdict, countStatus = lifecycle.TriggerReject, model.VerificationRejected, model.DailyCountRejected
	default:
		return nil, fmt.Errorf("%w: action должен быть approve или reject", ErrValidation)
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
		if req.Status != model.RequestInReview {
			return fmt.Errorf("%w: заявка %s в статусе %s", ErrAlreadyProcessed, req.ID, req.Status)
		}
		// Пересчёт выработки пользователя ждёт фиксации этой транзакции.
		if err := tx.DailyCounts().LockUser(ctx, req.UserID); err != nil {
			return err
		}
		target, err := lifecycle.Target(req.Status, trigger)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
		}

		now := s.now().UTC()
		verifier := caller.UserID
		req.Status = target
		req.VerificationStatus = verdict
		req.VerifiedBy = &verifier
		req.VerifiedAt = &now
		req.VerificationNotes = notes
		if action == VerifyReject {
			req.ReworkCount++
		}
		if err := tx.FileRequests().Update(ctx, req, model.RequestInReview); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
			}
			return fmt.Errorf("обновление заявки: %w", err)
		}

		key := model.DailyCountKey{
			UserID:    req.UserID,
			ProjectID: req.ProjectID,
			Date:      model.DateOnly(now.In(s.loc)),
			Status:    countStatus,
		}
		if err := tx.DailyCounts().AddDelta(ctx, key, req.AssignedCount, 1); err != nil {
			return fmt.Errorf("учёт дневной выработки: %w", err)
		}

		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	verificationsTotal.WithLabelValues(string(action)).Inc()
	s.logger.Info("Результат проверен",
		slog.String("request_id", result.ID),
		slog.String("action", string(action)),
		slog.String("user_id", result.UserID),
		slog.Int64("assigned_count", result.AssignedCount),
		slog.Int("rework_count", result.ReworkCount),
		slog.String("verified_by", caller.UserID),
	)
	return result, nil
}
