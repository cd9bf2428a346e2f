package model

import "time"

// DailyCountStatus — статус записи дневной выработки.
type DailyCountStatus string

const (
	// DailyCountApproved — принятая работа, входит в итоги выработки
	DailyCountApproved DailyCountStatus = "approved"
	// DailyCountRejected — отклонённая работа, только для аудита
	DailyCountRejected DailyCountStatus = "rejected"
)

// DailyCountKey — уникальный ключ агрегата дневной выработки.
type DailyCountKey struct {
	UserID    string
	ProjectID string
	// Date — дата (время отбрасывается)
	Date   time.Time
	Status DailyCountStatus
}

// DailyCount — агрегат выработки пользователя по проекту за день.
type DailyCount struct {
	ID        string
	UserID    string
	ProjectID string
	// CountDate — дата в часовом поясе отчётности
	CountDate time.Time
	Status    DailyCountStatus
	// SubmittedCount — сумма assigned_count проверенных заявок
	SubmittedCount int64
	// RequestCount — количество проверенных заявок
	RequestCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DateOnly отбрасывает время суток, сохраняя календарную дату в часовом поясе t.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
