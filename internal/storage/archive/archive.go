// Пакет archive — проверка архивов с результатами работы.
// Поддерживается единственный формат архива — zip.
package archive

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Extension — единственное допустимое расширение архива результата.
const Extension = ".zip"

// ErrNotArchive — содержимое файла не является zip-архивом.
var ErrNotArchive = errors.New("файл не является zip-архивом")

// HasArchiveExtension проверяет расширение имени файла (без учёта регистра).
func HasArchiveExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

// Info — сведения о содержимом архива.
type Info struct {
	// Entries — количество файлов (без директорий)
	Entries int
	// UncompressedSize — суммарный размер файлов после распаковки
	UncompressedSize uint64
}

// Inspect читает центральный каталог zip-архива по пути path.
// Содержимое файлов не распаковывается.
func Inspect(path string) (*Info, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) {
			return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
		}
		return nil, fmt.Errorf("ошибка чтения архива: %w", err)
	}
	defer r.Close()

	info := &Info{}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		info.Entries++
		info.UncompressedSize += f.UncompressedSize64
	}
	return info, nil
}
