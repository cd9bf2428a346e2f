package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
)

// ProcessFilter — фильтр списка файловых процессов.
type ProcessFilter struct {
	ProjectID *string
	Status    *model.ProcessStatus
}

// FileProcessRepository — доступ к таблице file_processes.
//
// processed_rows изменяется только через AdvanceProcessed — сравнение
// с ожидаемым значением и увеличение в одном UPDATE.
type FileProcessRepository interface {
	// Create создаёт процесс.
	Create(ctx context.Context, p *model.FileProcess) error
	// GetByID возвращает процесс по UUID.
	GetByID(ctx context.Context, id string) (*model.FileProcess, error)
	// GetForUpdate возвращает процесс с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (*model.FileProcess, error)
	// List возвращает процессы с фильтрацией.
	List(ctx context.Context, f ProcessFilter, limit, offset int) ([]*model.FileProcess, error)
	// Count возвращает количество процессов с фильтрацией.
	Count(ctx context.Context, f ProcessFilter) (int, error)
	// AttachSource сохраняет сведения об исходном файле.
	// Допустимо, только пока ни одна строка не распределена (иначе ErrConflict).
	AttachSource(ctx context.Context, p *model.FileProcess) error
	// AdvanceProcessed увеличивает processed_rows на delta, если текущее
	// значение равно p.ProcessedRows и результат не превышает total_rows.
	// Обновляет счётчики и статус p. Несовпадение — ErrConflict.
	AdvanceProcessed(ctx context.Context, p *model.FileProcess, delta int64) error
	// UpdateStatus устанавливает статус процесса.
	UpdateStatus(ctx context.Context, id string, status model.ProcessStatus) error
}

// fileProcessRepo — реализация FileProcessRepository.
type fileProcessRepo struct {
	db DBTX
}

// NewFileProcessRepository создаёт репозиторий файловых процессов.
func NewFileProcessRepository(db DBTX) FileProcessRepository {
	return &fileProcessRepo{db: db}
}

const processColumns = `id, name, project_id, type, status,
	source_file_name, storage_path, source_size, source_checksum,
	header_rows, total_rows, processed_rows, available_rows,
	daily_target, created_by, created_at, updated_at`

func scanProcess(row rowScanner) (*model.FileProcess, error) {
	p := &model.FileProcess{}
	var typ, status string
	err := row.Scan(
		&p.ID, &p.Name, &p.ProjectID, &typ, &status,
		&p.SourceFileName, &p.StoragePath, &p.SourceSize, &p.SourceChecksum,
		&p.HeaderRows, &p.TotalRows, &p.ProcessedRows, &p.AvailableRows,
		&p.DailyTarget, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type = model.ProcessType(typ)
	p.Status = model.ProcessStatus(status)
	return p, nil
}

func (r *fileProcessRepo) Create(ctx context.Context, p *model.FileProcess) error {
	query := `
		INSERT INTO file_processes (id, name, project_id, type, status,
			header_rows, total_rows, processed_rows, available_rows,
			daily_target, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.Name, p.ProjectID, string(p.Type), string(p.Status),
		p.HeaderRows, p.DailyTarget, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: процесс %s уже существует", ErrConflict, p.ID)
		}
		return fmt.Errorf("ошибка создания процесса: %w", err)
	}
	return nil
}

func (r *fileProcessRepo) GetByID(ctx context.Context, id string) (*model.FileProcess, error) {
	return r.get(ctx, `SELECT `+processColumns+` FROM file_processes WHERE id = $1`, id)
}

func (r *fileProcessRepo) GetForUpdate(ctx context.Context, id string) (*model.FileProcess, error) {
	return r.get(ctx, `SELECT `+processColumns+` FROM file_processes WHERE id = $1 FOR UPDATE`, id)
}

func (r *fileProcessRepo) get(ctx context.Context, query, id string) (*model.FileProcess, error) {
	p, err := scanProcess(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения процесса: %w", err)
	}
	return p, nil
}

func processWhere(f ProcessFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.ProjectID != nil {
		w.add("project_id = $%d", *f.ProjectID)
	}
	if f.Status != nil {
		w.add("status = $%d", string(*f.Status))
	}
	return w
}

func (r *fileProcessRepo) List(ctx context.Context, f ProcessFilter, limit, offset int) ([]*model.FileProcess, error) {
	w := processWhere(f)
	where := w.String()
	query := fmt.Sprintf(`SELECT %s FROM file_processes %s ORDER BY created_at DESC %s`,
		processColumns, where, w.page(limit, offset))

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка процессов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileProcess
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования процесса: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *fileProcessRepo) Count(ctx context.Context, f ProcessFilter) (int, error) {
	w := processWhere(f)
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM file_processes `+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта процессов: %w", err)
	}
	return n, nil
}

func (r *fileProcessRepo) AttachSource(ctx context.Context, p *model.FileProcess) error {
	query := `
		UPDATE file_processes
		SET source_file_name = $2, storage_path = $3, source_size = $4, source_checksum = $5,
			header_rows = $6, total_rows = $7, available_rows = $7, status = $8,
			updated_at = now()
		WHERE id = $1 AND processed_rows = 0
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.SourceFileName, p.StoragePath, p.SourceSize, p.SourceChecksum,
		p.HeaderRows, p.TotalRows, string(p.Status),
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: строки процесса %s уже распределяются", ErrConflict, p.ID)
		}
		return fmt.Errorf("ошибка сохранения исходного файла: %w", err)
	}
	p.ProcessedRows = 0
	p.RecomputeAvailable()
	return nil
}

func (r *fileProcessRepo) AdvanceProcessed(ctx context.Context, p *model.FileProcess, delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("приращение processed_rows должно быть положительным: %d", delta)
	}

	query := `
		UPDATE file_processes
		SET processed_rows = processed_rows + $3,
			available_rows = total_rows - (processed_rows + $3),
			status = CASE WHEN processed_rows + $3 >= total_rows THEN 'completed' ELSE 'in_progress' END,
			updated_at = now()
		WHERE id = $1 AND processed_rows = $2 AND processed_rows + $3 <= total_rows
			AND status <> 'paused'
		RETURNING processed_rows, available_rows, status, updated_at`

	var status string
	err := r.db.QueryRow(ctx, query, p.ID, p.ProcessedRows, delta).
		Scan(&p.ProcessedRows, &p.AvailableRows, &status, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: processed_rows процесса %s изменился", ErrConflict, p.ID)
		}
		return fmt.Errorf("ошибка обновления счётчиков процесса: %w", err)
	}
	p.Status = model.ProcessStatus(status)
	return nil
}

func (r *fileProcessRepo) UpdateStatus(ctx context.Context, id string, status model.ProcessStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE file_processes SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса процесса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
