// Пакет openapi — встроенное описание HTTP API File Allocator.
// Документ раздаётся по /api/v1/openapi.yaml и проверяется при старте.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

var (
	loadOnce sync.Once
	loaded   *openapi3.T
	loadErr  error
)

// Spec возвращает исходный YAML документа.
func Spec() []byte {
	return document
}

// Load разбирает и валидирует встроенный документ.
// Результат кэшируется на время жизни процесса.
func Load(ctx context.Context) (*openapi3.T, error) {
	loadOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(document)
		if err != nil {
			loadErr = fmt.Errorf("разбор openapi.yaml: %w", err)
			return
		}
		if err := doc.Validate(ctx); err != nil {
			loadErr = fmt.Errorf("валидация openapi.yaml: %w", err)
			return
		}
		loaded = doc
	})
	return loaded, loadErr
}

// ServeHTTP отдаёт документ как application/yaml.
func ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(document)
}
