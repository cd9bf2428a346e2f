// daily_count.go — отчёт по дневной выработке и пересчёт агрегатов.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
)

// DailyCountReport — агрегаты выработки и итоги по ним.
// Итоги выработки учитывают только approved-записи; rejected-записи
// служат аудитом и суммируются отдельно.
type DailyCountReport struct {
	Items []*model.DailyCount
	// ApprovedSubmitted — сумма строк принятых заявок
	ApprovedSubmitted int64
	// ApprovedRequests — количество принятых заявок
	ApprovedRequests int
	// RejectedSubmitted — сумма строк отклонений (аудит)
	RejectedSubmitted int64
	// RejectedRequests — количество отклонений (аудит)
	RejectedRequests int
}

// SyncResult — результат пересчёта выработки пользователя.
type SyncResult struct {
	UserID string
	// Removed — удалено прежних approved-агрегатов
	Removed int64
	// Rows — создано approved-агрегатов
	Rows int
	// Requests — учтено принятых заявок
	Requests int
	// Submitted — учтено строк
	Submitted int64
}

// DailyCountService — сервис дневной выработки.
type DailyCountService struct {
	store  repository.Store
	loc    *time.Location
	logger *slog.Logger
}

// NewDailyCountService создаёт сервис дневной выработки.
func NewDailyCountService(store repository.Store, loc *time.Location, logger *slog.Logger) *DailyCountService {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyCountService{
		store:  store,
		loc:    loc,
		logger: logger.With(slog.String("component", "daily_count_service")),
	}
}

// List возвращает агрегаты с итогами. Исполнитель видит только свою выработку.
func (s *DailyCountService) List(ctx context.Context, caller Caller, f repository.DailyCountFilter) (*DailyCountReport, error) {
	if !caller.IsManager() {
		if f.UserID != nil && *f.UserID != caller.UserID {
			return nil, fmt.Errorf("%w: доступна только собственная выработка", ErrForbidden)
		}
		uid := caller.UserID
		f.UserID = &uid
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%w: to раньше from", ErrValidation)
	}

	items, err := s.store.DailyCounts().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("получение дневной выработки: %w", err)
	}

	report := &DailyCountReport{Items: items}
	for _, dc := range items {
		switch dc.Status {
		case model.DailyCountApproved:
			report.ApprovedSubmitted += dc.SubmittedCount
			report.ApprovedRequests += dc.RequestCount
		case model.DailyCountRejected:
			report.RejectedSubmitted += dc.SubmittedCount
			report.RejectedRequests += dc.RequestCount
		}
	}
	return report, nil
}

// Sync пересчитывает approved-выработку пользователя по принятым заявкам
// (completed или verified с verification approved). Дата — день проверки
// в часовом поясе отчётности. Rejected-записи не затрагиваются.
//
// Выполняется в одной транзакции: прежние approved-агрегаты удаляются
// и строятся заново, поэтому повторный вызов даёт тот же результат.
// Проверка и пересчёт одного пользователя сериализуются LockUser.
func (s *DailyCountService) Sync(ctx context.Context, caller Caller, userID string) (*SyncResult, error) {
	if userID == "" {
		userID = caller.UserID
	}
	if !caller.CanActFor(userID) {
		return nil, fmt.Errorf("%w: пересчёт доступен для собственной выработки", ErrForbidden)
	}

	result := &SyncResult{UserID: userID}
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		// Список читается после блокировки: проверка, начатая раньше,
		// успевает зафиксироваться.
		if err := tx.DailyCounts().LockUser(ctx, userID); err != nil {
			return err
		}

		approved := model.VerificationApproved
		requests, err := tx.FileRequests().List(ctx, repository.RequestFilter{
			UserID:       &userID,
			Statuses:     []model.RequestStatus{model.RequestCompleted, model.RequestVerified},
			Verification: &approved,
		}, 0, 0)
		if err != nil {
			return fmt.Errorf("получение принятых заявок: %w", err)
		}

		removed, err := tx.DailyCounts().DeleteByUser(ctx, userID, model.DailyCountApproved)
		if err != nil {
			return fmt.Errorf("удаление прежней выработки: %w", err)
		}
		result.Removed = removed

		type bucket struct {
			submitted int64
			requests  int
		}
		buckets := make(map[model.DailyCountKey]*bucket)
		for _, req := range requests {
			key := model.DailyCountKey{
				UserID:    userID,
				ProjectID: req.ProjectID,
				Date:      model.DateOnly(s.countTime(req).In(s.loc)),
				Status:    model.DailyCountApproved,
			}
			b, ok := buckets[key]
			if !ok {
				b = &bucket{}
				buckets[key] = b
			}
			b.submitted += req.AssignedCount
			b.requests++
		}

		keys := make([]model.DailyCountKey, 0, len(buckets))
		for k := range buckets {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if !keys[i].Date.Equal(keys[j].Date) {
				return keys[i].Date.Before(keys[j].Date)
			}
			return keys[i].ProjectID < keys[j].ProjectID
		})

		for _, k := range keys {
			b := buckets[k]
			if err := tx.DailyCounts().AddDelta(ctx, k, b.submitted, b.requests); err != nil {
				return fmt.Errorf("запись выработки: %w", err)
			}
			result.Submitted += b.submitted
			result.Requests += b.requests
		}
		result.Rows = len(keys)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Дневная выработка пересчитана",
		slog.String("user_id", userID),
		slog.Int64("removed", result.Removed),
		slog.Int("rows", result.Rows),
		slog.Int("requests", result.Requests),
		slog.Int64("submitted", result.Submitted),
		slog.String("requested_by", caller.UserID),
	)
	return result, nil
}

// countTime — момент, к которому относится принятая заявка.
func (s *DailyCountService) countTime(req *model.FileRequest) time.Time {
	switch {
	case req.VerifiedAt != nil:
		return *req.VerifiedAt
	case req.CompletedAt != nil:
		return *req.CompletedAt
	default:
		return req.UpdatedAt
	}
}
