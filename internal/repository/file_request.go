package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
)

// RequestFilter — фильтр списка заявок.
type RequestFilter struct {
	UserID        *string
	FileProcessID *string
	Statuses      []model.RequestStatus
	Verification  *model.VerificationStatus
}

// FileRequestRepository — доступ к таблице file_requests.
//
// Диапазон (assigned_count, start_row, end_row) записывается только
// через Assign и только для заявки в статусе pending. Update диапазон
// не изменяет.
type FileRequestRepository interface {
	// Create создаёт заявку.
	Create(ctx context.Context, req *model.FileRequest) error
	// GetByID возвращает заявку по UUID.
	GetByID(ctx context.Context, id string) (*model.FileRequest, error)
	// GetForUpdate возвращает заявку с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (*model.FileRequest, error)
	// List возвращает заявки с фильтрацией; limit <= 0 — без ограничения.
	List(ctx context.Context, f RequestFilter, limit, offset int) ([]*model.FileRequest, error)
	// Count возвращает количество заявок с фильтрацией.
	Count(ctx context.Context, f RequestFilter) (int, error)
	// Assign записывает выделенный диапазон и переводит заявку в assigned.
	// Заявка не в pending или занятая начальная строка — ErrConflict.
	Assign(ctx context.Context, req *model.FileRequest) error
	// Update сохраняет изменяемые поля заявки, если её текущий статус равен expected.
	// Иначе — ErrConflict.
	Update(ctx context.Context, req *model.FileRequest, expected model.RequestStatus) error
}

// fileRequestRepo — реализация FileRequestRepository.
type fileRequestRepo struct {
	db DBTX
}

// NewFileRequestRepository создаёт репозиторий заявок.
func NewFileRequestRepository(db DBTX) FileRequestRepository {
	return &fileRequestRepo{db: db}
}

const requestColumns = `id, user_id, file_process_id, project_id,
	requested_count, assigned_count, start_row, end_row, status,
	assigned_by, assigned_at, download_link, first_downloaded_at,
	artifact_file_name, artifact_path, artifact_size, artifact_checksum,
	artifact_entries, artifact_uploaded_at, artifact_notes, completed_at,
	verification_status, verified_by, verified_at, verification_notes,
	rework_count, notes, created_at, updated_at`

// artifactColumns — nullable-поля артефакта при сканировании и записи.
type artifactColumns struct {
	FileName   *string
	Path       *string
	Size       *int64
	Checksum   *string
	Entries    *int
	UploadedAt *time.Time
	Notes      *string
}

func (a *artifactColumns) toModel() *model.Artifact {
	if a.Path == nil {
		return nil
	}
	art := &model.Artifact{StoragePath: *a.Path, Notes: a.Notes}
	if a.FileName != nil {
		art.FileName = *a.FileName
	}
	if a.Size != nil {
		art.Size = *a.Size
	}
	if a.Checksum != nil {
		art.Checksum = *a.Checksum
	}
	if a.Entries != nil {
		art.Entries = *a.Entries
	}
	if a.UploadedAt != nil {
		art.UploadedAt = *a.UploadedAt
	}
	return art
}

func artifactArgs(art *model.Artifact) artifactColumns {
	if art == nil {
		return artifactColumns{}
	}
	return artifactColumns{
		FileName:   &art.FileName,
		Path:       &art.StoragePath,
		Size:       &art.Size,
		Checksum:   &art.Checksum,
		Entries:    &art.Entries,
		UploadedAt: &art.UploadedAt,
		Notes:      art.Notes,
	}
}

func scanRequest(row rowScanner) (*model.FileRequest, error) {
	req := &model.FileRequest{}
	var status, verification string
	var art artifactColumns
	err := row.Scan(
		&req.ID, &req.UserID, &req.FileProcessID, &req.ProjectID,
		&req.RequestedCount, &req.AssignedCount, &req.StartRow, &req.EndRow, &status,
		&req.AssignedBy, &req.AssignedAt, &req.DownloadLink, &req.FirstDownloadedAt,
		&art.FileName, &art.Path, &art.Size, &art.Checksum,
		&art.Entries, &art.UploadedAt, &art.Notes, &req.CompletedAt,
		&verification, &req.VerifiedBy, &req.VerifiedAt, &req.VerificationNotes,
		&req.ReworkCount, &req.Notes, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = model.RequestStatus(status)
	req.VerificationStatus = model.VerificationStatus(verification)
	req.Artifact = art.toModel()
	return req, nil
}

func (r *fileRequestRepo) Create(ctx context.Context, req *model.FileRequest) error {
	query := `
		INSERT INTO file_requests (id, user_id, file_process_id, project_id,
			requested_count, status, verification_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		req.ID, req.UserID, req.FileProcessID, req.ProjectID,
		req.RequestedCount, string(req.Status), string(req.VerificationStatus), req.Notes,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: заявка %s уже существует", ErrConflict, req.ID)
		}
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *fileRequestRepo) GetByID(ctx context.Context, id string) (*model.FileRequest, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM file_requests WHERE id = $1`, id)
}

func (r *fileRequestRepo) GetForUpdate(ctx context.Context, id string) (*model.FileRequest, error) {
	return r.get(ctx, `SELECT `+requestColumns+` FROM file_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *fileRequestRepo) get(ctx context.Context, query, id string) (*model.FileRequest, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return req, nil
}

func requestWhere(f RequestFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.UserID != nil {
		w.add("user_id = $%d", *f.UserID)
	}
	if f.FileProcessID != nil {
		w.add("file_process_id = $%d", *f.FileProcessID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		w.add("status = ANY($%d)", statuses)
	}
	if f.Verification != nil {
		w.add("verification_status = $%d", string(*f.Verification))
	}
	return w
}

func (r *fileRequestRepo) List(ctx context.Context, f RequestFilter, limit, offset int) ([]*model.FileRequest, error) {
	w := requestWhere(f)
	where := w.String()
	query := fmt.Sprintf(`SELECT %s FROM file_requests %s ORDER BY created_at DESC, id %s`,
		requestColumns, where, w.page(limit, offset))

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заявок: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (r *fileRequestRepo) Count(ctx context.Context, f RequestFilter) (int, error) {
	w := requestWhere(f)
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM file_requests `+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта заявок: %w", err)
	}
	return n, nil
}

func (r *fileRequestRepo) Assign(ctx context.Context, req *model.FileRequest) error {
	query := `
		UPDATE file_requests
		SET assigned_count = $2, start_row = $3, end_row = $4, status = 'assigned',
			assigned_by = $5, assigned_at = $6, download_link = $7, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND assigned_count = 0
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		req.ID, req.AssignedCount, req.StartRow, req.EndRow,
		req.AssignedBy, req.AssignedAt, req.DownloadLink,
	).Scan(&req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: заявка %s уже распределена", ErrConflict, req.ID)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: строка %d процесса уже выделена", ErrConflict, req.StartRow)
		}
		return fmt.Errorf("ошибка распределения заявки: %w", err)
	}
	req.Status = model.RequestAssigned
	return nil
}

func (r *fileRequestRepo) Update(ctx context.Context, req *model.FileRequest, expected model.RequestStatus) error {
	query := `
		UPDATE file_requests
		SET status = $3, first_downloaded_at = $4,
			artifact_file_name = $5, artifact_path = $6, artifact_size = $7,
			artifact_checksum = $8, artifact_entries = $9, artifact_uploaded_at = $10,
			artifact_notes = $11, completed_at = $12,
			verification_status = $13, verified_by = $14, verified_at = $15,
			verification_notes = $16, rework_count = $17, notes = $18,
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`

	art := artifactArgs(req.Artifact)
	err := r.db.QueryRow(ctx, query,
		req.ID, string(expected), string(req.Status), req.FirstDownloadedAt,
		art.FileName, art.Path, art.Size,
		art.Checksum, art.Entries, art.UploadedAt,
		art.Notes, req.CompletedAt,
		string(req.VerificationStatus), req.VerifiedBy, req.VerifiedAt,
		req.VerificationNotes, req.ReworkCount, req.Notes,
	).Scan(&req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: статус заявки %s уже не %s", ErrConflict, req.ID, expected)
		}
		return fmt.Errorf("ошибка обновления заявки: %w", err)
	}
	return nil
}
