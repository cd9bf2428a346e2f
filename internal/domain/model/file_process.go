// Пакет model — доменные модели движка распределения файлов.
// Хранятся в таблицах file_processes, file_requests, daily_counts.
package model

import "time"

// ProcessStatus — статус файлового процесса.
type ProcessStatus string

const (
	// ProcessPending — процесс создан, исходный файл ещё не загружен
	ProcessPending ProcessStatus = "pending"
	// ProcessActive — исходный файл загружен, строки ещё не выдавались
	ProcessActive ProcessStatus = "active"
	// ProcessInProgress — часть строк уже распределена
	ProcessInProgress ProcessStatus = "in_progress"
	// ProcessCompleted — все строки распределены
	ProcessCompleted ProcessStatus = "completed"
	// ProcessPaused — выдача новых диапазонов приостановлена
	ProcessPaused ProcessStatus = "paused"
)

// ProcessType — тип файлового процесса.
type ProcessType string

const (
	ProcessTypeAutomation ProcessType = "automation"
	ProcessTypeManual     ProcessType = "manual"
)

// IsValid проверяет допустимость статуса процесса.
func (s ProcessStatus) IsValid() bool {
	switch s {
	case ProcessPending, ProcessActive, ProcessInProgress, ProcessCompleted, ProcessPaused:
		return true
	default:
		return false
	}
}

// IsValid проверяет допустимость типа процесса.
func (t ProcessType) IsValid() bool {
	return t == ProcessTypeAutomation || t == ProcessTypeManual
}

// FileProcess — загруженный файл данных, который раздаётся исполнителям частями.
type FileProcess struct {
	// ID — UUID процесса
	ID string
	// Name — отображаемое имя
	Name string
	// ProjectID — внешний идентификатор проекта (непрозрачный ключ)
	ProjectID string
	// Type — automation или manual
	Type ProcessType
	// Status — текущий статус процесса
	Status ProcessStatus

	// SourceFileName — оригинальное имя исходного файла (nil до загрузки)
	SourceFileName *string
	// StoragePath — путь исходного файла относительно FA_DATA_DIR
	StoragePath *string
	// SourceSize — размер исходного файла в байтах
	SourceSize int64
	// SourceChecksum — SHA-256 исходного файла
	SourceChecksum *string

	// HeaderRows — количество строк заголовка в начале файла
	HeaderRows int
	// TotalRows — количество строк данных (без заголовка)
	TotalRows int64
	// ProcessedRows — верхняя граница уже выданных строк, только растёт
	ProcessedRows int64
	// AvailableRows — max(0, TotalRows - ProcessedRows)
	AvailableRows int64

	// DailyTarget — дневная норма строк (опционально)
	DailyTarget *int
	// CreatedBy — кто создал процесс
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecomputeAvailable пересчитывает AvailableRows из TotalRows и ProcessedRows.
func (p *FileProcess) RecomputeAvailable() {
	p.AvailableRows = p.TotalRows - p.ProcessedRows
	if p.AvailableRows < 0 {
		p.AvailableRows = 0
	}
}

// HasSource сообщает, загружен ли исходный файл.
func (p *FileProcess) HasSource() bool {
	return p.StoragePath != nil && *p.StoragePath != ""
}

// ProgressStatus возвращает статус процесса, соответствующий счётчикам.
// Приостановленный процесс остаётся приостановленным.
func (p *FileProcess) ProgressStatus() ProcessStatus {
	switch {
	case p.Status == ProcessPaused:
		return ProcessPaused
	case !p.HasSource():
		return ProcessPending
	case p.TotalRows > 0 && p.ProcessedRows >= p.TotalRows:
		return ProcessCompleted
	case p.ProcessedRows > 0:
		return ProcessInProgress
	default:
		return ProcessActive
	}
}
