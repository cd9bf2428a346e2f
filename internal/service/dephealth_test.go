package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newJWKSServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewDephealthService_WithoutDatabase(t *testing.T) {
	srv := newJWKSServer(t, http.StatusOK)

	ds, err := NewDephealthService(DephealthParams{
		ServiceID:       "fa-test-01",
		Group:           "bpo",
		KeycloakJWKSURL: srv.URL + "/realms/bpo/protocol/openid-connect/certs",
		CheckInterval:   5 * time.Second,
		Registerer:      prometheus.NewRegistry(),
	}, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}
	if len(ds.deps) != 1 || ds.deps[0] != "keycloak-jwks" {
		t.Errorf("deps = %v, ожидался только keycloak-jwks", ds.deps)
	}
}

func TestDephealthService_StartStop(t *testing.T) {
	srv := newJWKSServer(t, http.StatusOK)

	ds, err := NewDephealthService(DephealthParams{
		ServiceID:       "fa-test-02",
		Group:           "bpo",
		KeycloakJWKSURL: srv.URL,
		CheckInterval:   1 * time.Second,
		Registerer:      prometheus.NewRegistry(),
	}, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}

	// Интервал 1s + запас на первую проверку
	time.Sleep(3 * time.Second)

	found := false
	for key, val := range ds.Health() {
		if strings.HasPrefix(key, "keycloak-jwks:") {
			found = true
			if !val {
				t.Errorf("keycloak-jwks health = false для ключа %q", key)
			}
		}
	}
	if !found {
		t.Errorf("нет записи keycloak-jwks в Health(): %v", ds.Health())
	}

	ds.Stop()
}
