// Пакет filestore — хранение исходных файлов и архивов результатов на диске.
// Обеспечивает streaming-приём с подсчётом SHA-256 и ограничением размера,
// атомарное размещение, чтение и удаление.
//
// Раскладка в dataDir:
//
//	sources/<process_id>/<storage_name>   — исходные CSV файловых процессов
//	artifacts/<request_id>/<storage_name> — архивы результатов по заявкам
//	tmp/                                  — временные файлы приёма
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotExist — файл отсутствует в хранилище.
	ErrNotExist = errors.New("файл не найден")
	// ErrTooLarge — размер принимаемых данных превышает лимит.
	ErrTooLarge = errors.New("превышен максимальный размер файла")
	// ErrInvalidKey — ключ выходит за пределы хранилища.
	ErrInvalidKey = errors.New("недопустимый ключ файла")
)

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (FA_DATA_DIR)
	dataDir string
	// tmpDir — директория временных файлов приёма
	tmpDir string
}

// Spooled — принятый во временный файл поток.
// Размещается в хранилище через Put или удаляется через Discard.
type Spooled struct {
	// Path — абсолютный путь временного файла
	Path string
	// Size — размер в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// Discard удаляет временный файл. Повторный вызов безопасен.
func (s *Spooled) Discard() {
	if s != nil && s.Path != "" {
		os.Remove(s.Path)
	}
}

// New создаёт FileStore. Создаёт dataDir и tmp при необходимости.
func New(dataDir string) (*FileStore, error) {
	tmpDir := filepath.Join(dataDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir, tmpDir: tmpDir}, nil
}

// Spool принимает поток во временный файл с подсчётом SHA-256 на лету.
// limit > 0 ограничивает размер: при превышении возвращается ErrTooLarge,
// временный файл удаляется. Дополнительные writers получают те же байты
// (например, счётчик строк).
//
// Паттерн: temp файл → запись + SHA-256 → fsync.
func (fs *FileStore) Spool(reader io.Reader, limit int64, extra ...io.Writer) (*Spooled, error) {
	f, err := os.CreateTemp(fs.tmpDir, "spool-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	fail := func(err error) (*Spooled, error) {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	if limit > 0 {
		reader = io.LimitReader(reader, limit+1)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	writers := append([]io.Writer{f, hasher}, extra...)

	size, err := io.Copy(io.MultiWriter(writers...), reader)
	if err != nil {
		return fail(fmt.Errorf("ошибка записи данных: %w", err))
	}
	if limit > 0 && size > limit {
		return fail(fmt.Errorf("%w: лимит %d байт", ErrTooLarge, limit))
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("ошибка fsync: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &Spooled{
		Path:     tmpPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Put атомарно размещает принятый файл по ключу.
// Существующий файл с тем же ключом заменяется.
func (fs *FileStore) Put(_ context.Context, key string, sp *Spooled) error {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории для %s: %w", key, err)
	}

	// Атомарный rename: tmp/ и целевая директория на одной файловой системе
	if err := os.Rename(sp.Path, fullPath); err != nil {
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	sp.Path = ""
	return nil
}

// Open открывает файл для чтения с произвольным доступом.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(key string) (*os.File, error) {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}
	return f, nil
}

// Get открывает файл для последовательного чтения и возвращает его размер.
func (fs *FileStore) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	f, err := fs.Open(key)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// Remove удаляет файл и пустую родительскую директорию.
// Возвращает nil, если файл уже не существует.
func (fs *FileStore) Remove(_ context.Context, key string) error {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	// Директория процесса или заявки удаляется, только если пуста
	os.Remove(filepath.Dir(fullPath))
	return nil
}

// Exists проверяет существование файла.
func (fs *FileStore) Exists(key string) bool {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// Ping проверяет, что в директорию данных можно писать.
func (fs *FileStore) Ping(_ context.Context) error {
	f, err := os.CreateTemp(fs.tmpDir, "ping-*.tmp")
	if err != nil {
		return fmt.Errorf("директория %s недоступна для записи: %w", fs.tmpDir, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve переводит ключ в абсолютный путь внутри dataDir.
func (fs *FileStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.dataDir, filepath.FromSlash(clean)), nil
}

// SourceKey возвращает ключ исходного файла процесса.
func SourceKey(processID, originalFilename, uploadedBy string) string {
	return path.Join("sources", processID, StorageName(originalFilename, uploadedBy))
}

// ArtifactKey возвращает ключ архива результата заявки.
func ArtifactKey(requestID, originalFilename, uploadedBy string) string {
	return path.Join("artifacts", requestID, StorageName(originalFilename, uploadedBy))
}

// StorageName генерирует имя файла для хранения.
// Формат: {name}_{user}_{timestamp}_{uuid}.{ext}
// Пример: leads_ivanov_20260221150405_a1b2c3d4.csv
func StorageName(originalFilename, uploadedBy string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	name := strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))

	name = truncate(Sanitize(name), 50)
	user := truncate(Sanitize(uploadedBy), 20)

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8] // Короткий UUID для уникальности

	return fmt.Sprintf("%s_%s_%s_%s%s", name, user, ts, uid, Sanitize(ext))
}

// Sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис, подчёркивание и точку расширения.
func Sanitize(s string) string {
	var result strings.Builder
	for i, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r == '.' && i == 0) ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	return result.String()
}

// truncate ограничивает длину имени по границе руны; пустое имя заменяется на "file".
func truncate(s string, limit int) string {
	if s == "" {
		return "file"
	}
	r := []rune(s)
	if len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}
