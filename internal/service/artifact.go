// artifact.go — хранилище результатов работы (архивы по заявкам).
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/wfm-allocator/internal/domain/lifecycle"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
	"github.com/bigkaa/wfm-allocator/internal/storage/archive"
	"github.com/bigkaa/wfm-allocator/internal/storage/filestore"
)

// ArtifactStore — хранилище архивов результата.
// Реализуется filestore.FileStore и s3store.Store.
type ArtifactStore interface {
	// Put размещает принятый файл по ключу, заменяя существующий.
	Put(ctx context.Context, key string, sp *filestore.Spooled) error
	// Get открывает объект; отсутствие — filestore.ErrNotExist.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Remove удаляет объект; отсутствие не является ошибкой.
	Remove(ctx context.Context, key string) error
}

// ArtifactDownload — открытый для чтения архив результата.
type ArtifactDownload struct {
	FileName string
	Size     int64
	Checksum string
	Body     io.ReadCloser
}

// ArtifactService — сервис загрузки и скачивания архивов результата.
type ArtifactService struct {
	store   repository.Store
	spool   *filestore.FileStore
	backend ArtifactStore
	maxSize int64
	logger  *slog.Logger
}

// NewArtifactService создаёт сервис архивов.
// spool — локальное хранилище для приёма, backend — место постоянного хранения.
func NewArtifactService(
	store repository.Store,
	spool *filestore.FileStore,
	backend ArtifactStore,
	maxSize int64,
	logger *slog.Logger,
) *ArtifactService {
	return &ArtifactService{
		store:   store,
		spool:   spool,
		backend: backend,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "artifact_service")),
	}
}

// Upload принимает архив с результатом по заявке.
//
// Поток:
//  1. Доступ (владелец, менеджер, администратор) и расширение .zip
//  2. Проверка статуса (in_progress или rework)
//  3. Приём во временный файл с лимитом размера
//  4. Проверка структуры zip
//  5. Размещение в artifacts/<request_id>/
//  6. Транзакция: статус in_review, verification pending, completed_at
//  7. Удаление заменённого архива
//
// При любой ошибке статус заявки не меняется.
func (s *ArtifactService) Upload(
	ctx context.Context, caller Caller, requestID, fileName string, notes *string, r io.Reader,
) (*model.FileRequest, error) {
	req, err := s.upload(ctx, caller, requestID, fileName, notes, r)
	if err != nil {
		artifactUploadsTotal.WithLabelValues(uploadResult(err)).Inc()
		return nil, err
	}
	artifactUploadsTotal.WithLabelValues(resultOK).Inc()
	return req, nil
}

func (s *ArtifactService) upload(
	ctx context.Context, caller Caller, requestID, fileName string, notes *string, r io.Reader,
) (*model.FileRequest, error) {
	req, err := getRequest(ctx, s.store, caller, requestID)
	if err != nil {
		return nil, err
	}
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." {
		return nil, fmt.Errorf("%w: не указано имя файла", ErrValidation)
	}
	if !archive.HasArchiveExtension(fileName) {
		return nil, fmt.Errorf("%w: ожидается архив %s, получен %q", ErrUnsupportedFormat, archive.Extension, fileName)
	}
	if _, err := lifecycle.Target(req.Status, lifecycle.TriggerUpload); err != nil {
		return nil, err
	}

	sp, err := s.spool.Spool(r, s.maxSize)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
		}
		return nil, fmt.Errorf("приём архива: %w", err)
	}
	defer sp.Discard()

	info, err := archive.Inspect(sp.Path)
	if err != nil {
		if errors.Is(err, archive.ErrNotArchive) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("проверка архива: %w", err)
	}
	if info.Entries == 0 {
		return nil, fmt.Errorf("%w: архив не содержит файлов", ErrValidation)
	}

	art := &model.Artifact{
		FileName:    fileName,
		StoragePath: filestore.ArtifactKey(req.ID, fileName, caller.displayName()),
		Size:        sp.Size,
		Checksum:    sp.Checksum,
		Entries:     info.Entries,
		UploadedAt:  time.Now().UTC(),
		Notes:       notes,
	}
	if err := s.backend.Put(ctx, art.StoragePath, sp); err != nil {
		return nil, fmt.Errorf("размещение архива: %w", err)
	}

	var replaced *model.Artifact
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		cur, err := tx.FileRequests().GetForUpdate(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("получение заявки: %w", err)
		}
		prev := cur.Status
		target, err := lifecycle.Target(prev, lifecycle.TriggerUpload)
		if err != nil {
			return err
		}

		replaced = cur.Artifact
		cur.Artifact = art
		cur.Status = target
		cur.VerificationStatus = model.VerificationPending
		if cur.CompletedAt == nil {
			cur.CompletedAt = &art.UploadedAt
		}
		if err := tx.FileRequests().Update(ctx, cur, prev); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %v", ErrAlreadyProcessed, err)
			}
			return fmt.Errorf("обновление заявки: %w", err)
		}
		req = cur
		return nil
	})
	if err != nil {
		if rmErr := s.backend.Remove(ctx, art.StoragePath); rmErr != nil {
			s.logger.Warn("Не удалось удалить архив после ошибки",
				slog.String("path", art.StoragePath),
				slog.String("error", rmErr.Error()),
			)
		}
		return nil, err
	}

	if replaced != nil && replaced.StoragePath != art.StoragePath {
		if err := s.backend.Remove(ctx, replaced.StoragePath); err != nil {
			s.logger.Warn("Не удалось удалить заменённый архив",
				slog.String("request_id", req.ID),
				slog.String("path", replaced.StoragePath),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Архив результата загружен",
		slog.String("request_id", req.ID),
		slog.String("file_name", art.FileName),
		slog.Int64("size", art.Size),
		slog.Int("entries", art.Entries),
		slog.Int("rework_count", req.ReworkCount),
		slog.String("uploaded_by", caller.UserID),
	)
	return req, nil
}

// uploadResult — значение метки result для ошибки загрузки.
func uploadResult(err error) string {
	var terr *lifecycle.TransitionError
	switch {
	case errors.As(err, &terr), errors.Is(err, ErrAlreadyProcessed):
		return resultConflict
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrValidation), errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound):
		return resultRejected
	default:
		return resultError
	}
}

// Open открывает архив результата заявки для скачивания.
// Отсутствие архива в хранилище логируется как расхождение с БД.
func (s *ArtifactService) Open(ctx context.Context, caller Caller, requestID string) (*ArtifactDownload, error) {
	req, err := getRequest(ctx, s.store, caller, requestID)
	if err != nil {
		return nil, err
	}
	if req.Artifact == nil || req.Artifact.StoragePath == "" {
		return nil, fmt.Errorf("%w: по заявке %s архив не загружался", ErrFileNotFound, req.ID)
	}

	body, size, err := s.backend.Get(ctx, req.Artifact.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotExist) {
			s.logger.Warn("Архив результата отсутствует в хранилище",
				slog.String("request_id", req.ID),
				slog.String("path", req.Artifact.StoragePath),
			)
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, req.Artifact.StoragePath)
		}
		return nil, fmt.Errorf("открытие архива: %w", err)
	}

	return &ArtifactDownload{
		FileName: req.Artifact.FileName,
		Size:     size,
		Checksum: req.Artifact.Checksum,
		Body:     body,
	}, nil
}
