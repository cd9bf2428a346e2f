package openapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoad_Valid(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("документ не прошёл валидацию: %v", err)
	}

	for _, path := range []string{
		"/api/v1/file-processes",
		"/api/v1/file-processes/{process_id}/source",
		"/api/v1/file-requests/{request_id}/approve",
		"/api/v1/file-requests/{request_id}/slice",
		"/api/v1/daily-counts/sync",
		"/health/ready",
	} {
		if doc.Paths.Value(path) == nil {
			t.Errorf("путь %s отсутствует в документе", path)
		}
	}

	errSchema := doc.Components.Schemas["Error"]
	if errSchema == nil || errSchema.Value == nil {
		t.Fatal("схема Error отсутствует")
	}
	codes := errSchema.Value.Properties["error"].Value.Properties["code"].Value.Enum
	found := false
	for _, c := range codes {
		if c == "NO_CAPACITY" {
			found = true
		}
	}
	if !found {
		t.Errorf("код NO_CAPACITY отсутствует в перечне: %v", codes)
	}
}

func TestServeHTTP(t *testing.T) {
	w := httptest.NewRecorder()
	ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("ожидался application/yaml, получен %q", ct)
	}
	if w.Body.Len() != len(Spec()) {
		t.Errorf("тело ответа %d байт, документ %d байт", w.Body.Len(), len(Spec()))
	}
}
