package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
)

// DailyCountFilter — фильтр агрегатов дневной выработки.
type DailyCountFilter struct {
	UserID    *string
	ProjectID *string
	Status    *model.DailyCountStatus
	// From, To — границы дат включительно
	From *time.Time
	To   *time.Time
}

// DailyCountRepository — доступ к таблице daily_counts.
//
// Агрегат изменяется только приращением (AddDelta) — одним
// INSERT ... ON CONFLICT, без чтения перед записью.
type DailyCountRepository interface {
	// AddDelta добавляет submitted и requests к агрегату по ключу,
	// создавая его при отсутствии.
	AddDelta(ctx context.Context, key model.DailyCountKey, submitted int64, requests int) error
	// List возвращает агрегаты с фильтрацией, по дате по возрастанию.
	List(ctx context.Context, f DailyCountFilter) ([]*model.DailyCount, error)
	// DeleteByUser удаляет агрегаты пользователя с указанным статусом.
	DeleteByUser(ctx context.Context, userID string, status model.DailyCountStatus) (int64, error)
	// LockUser берёт блокировку выработки пользователя до конца транзакции.
	// Вне транзакции блокировка снимается сразу.
	LockUser(ctx context.Context, userID string) error
}

// dailyCountRepo — реализация DailyCountRepository.
type dailyCountRepo struct {
	db DBTX
}

// NewDailyCountRepository создаёт репозиторий дневной выработки.
func NewDailyCountRepository(db DBTX) DailyCountRepository {
	return &dailyCountRepo{db: db}
}

func (r *dailyCountRepo) AddDelta(ctx context.Context, key model.DailyCountKey, submitted int64, requests int) error {
	query := `
		INSERT INTO daily_counts (id, user_id, project_id, count_date, status, submitted_count, request_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, project_id, count_date, status) DO UPDATE
		SET submitted_count = daily_counts.submitted_count + EXCLUDED.submitted_count,
			request_count = daily_counts.request_count + EXCLUDED.request_count,
			updated_at = now()`

	_, err := r.db.Exec(ctx, query,
		uuid.NewString(), key.UserID, key.ProjectID, model.DateOnly(key.Date), string(key.Status),
		submitted, requests,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления дневной выработки: %w", err)
	}
	return nil
}

func (r *dailyCountRepo) List(ctx context.Context, f DailyCountFilter) ([]*model.DailyCount, error) {
	w := &whereBuilder{}
	if f.UserID != nil {
		w.add("user_id = $%d", *f.UserID)
	}
	if f.ProjectID != nil {
		w.add("project_id = $%d", *f.ProjectID)
	}
	if f.Status != nil {
		w.add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		w.add("count_date >= $%d", model.DateOnly(*f.From))
	}
	if f.To != nil {
		w.add("count_date <= $%d", model.DateOnly(*f.To))
	}

	query := `
		SELECT id, user_id, project_id, count_date, status,
			submitted_count, request_count, created_at, updated_at
		FROM daily_counts ` + w.String() + `
		ORDER BY count_date, user_id, project_id, status`

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения дневной выработки: %w", err)
	}
	defer rows.Close()

	var result []*model.DailyCount
	for rows.Next() {
		dc := &model.DailyCount{}
		var status string
		if err := rows.Scan(
			&dc.ID, &dc.UserID, &dc.ProjectID, &dc.CountDate, &status,
			&dc.SubmittedCount, &dc.RequestCount, &dc.CreatedAt, &dc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования дневной выработки: %w", err)
		}
		dc.Status = model.DailyCountStatus(status)
		result = append(result, dc)
	}
	return result, rows.Err()
}

func (r *dailyCountRepo) DeleteByUser(ctx context.Context, userID string, status model.DailyCountStatus) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM daily_counts WHERE user_id = $1 AND status = $2`, userID, string(status))
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления дневной выработки: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *dailyCountRepo) LockUser(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return fmt.Errorf("ошибка блокировки выработки пользователя: %w", err)
	}
	return nil
}
