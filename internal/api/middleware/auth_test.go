package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/wfm-allocator/internal/domain/rbac"
)

const (
	testKeyID  = "test-key-fa"
	testIssuer = "https://keycloak.test/realms/bpo"
)

var testGroups = RoleGroups{
	Admin:        []string{"bpo-admins"},
	Manager:      []string{"bpo-managers"},
	Worker:       []string{"bpo-workers"},
	SAAdminScope: "allocator:admin",
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с JWKS из тестового ключа.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testGroups, testLogger())
}

// signToken подписывает claims тестовым ключом.
func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// generateUserToken генерирует JWT пользователя.
func generateUserToken(t *testing.T, key *rsa.PrivateKey, sub, username string, roles, groups []string, expired bool) string {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": username,
		"email":              username + "@bpo.test",
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": roles}
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	return signToken(t, key, claims)
}

// generateSAToken генерирует JWT Service Account.
func generateSAToken(t *testing.T, key *rsa.PrivateKey, sub, clientID, scope string) string {
	t.Helper()
	return signToken(t, key, jwt.MapClaims{
		"sub":       sub,
		"client_id": clientID,
		"scope":     scope,
		"iss":       testIssuer,
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":       jwt.NewNumericDate(time.Now()),
	})
}

// serve выполняет запрос через middleware и возвращает рекордер.
func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/file-requests", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_ValidUserToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatal("claims не найдены в контексте")
		}
		if caller.UserID != "user-123" {
			t.Errorf("UserID = %q, ожидался user-123", caller.UserID)
		}
		if caller.Username != "ivanov" {
			t.Errorf("Username = %q, ожидался ivanov", caller.Username)
		}
		if caller.Role != rbac.RoleWorker {
			t.Errorf("Role = %q, ожидался worker", caller.Role)
		}
		w.WriteHeader(http.StatusOK)
	}))

	token := generateUserToken(t, key, "user-123", "ivanov", nil, []string{"bpo-workers"}, false)
	if rec := serve(handler, token); rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

func TestJWTAuth_SAToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name     string
		scope    string
		wantCode int
	}{
		{"scope admin", "openid allocator:admin", http.StatusOK},
		{"без scope admin", "openid profile", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims := ClaimsFromContext(r.Context())
				if claims.SubjectType != SubjectTypeSA {
					t.Errorf("SubjectType = %s, ожидался service_account", claims.SubjectType)
				}
				if claims.EffectiveRole != rbac.RoleAdmin {
					t.Errorf("EffectiveRole = %s, ожидался admin", claims.EffectiveRole)
				}
				if c := claims.Caller(); c.Username != "sa_etl" {
					t.Errorf("Username = %q, ожидался client_id sa_etl", c.Username)
				}
				w.WriteHeader(http.StatusOK)
			}))

			token := generateSAToken(t, key, "sa-uuid-1", "sa_etl", tt.scope)
			if rec := serve(handler, token); rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	wrongIssuer := signToken(t, key, jwt.MapClaims{
		"sub":    "user-1",
		"groups": []string{"bpo-workers"},
		"iss":    "https://evil.test/realms/bpo",
		"exp":    jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noExp := signToken(t, key, jwt.MapClaims{
		"sub":    "user-1",
		"groups": []string{"bpo-workers"},
		"iss":    testIssuer,
	})

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"нет заголовка", "", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"без префикса", "token123", http.StatusUnauthorized},
		{"пустой bearer", "Bearer ", http.StatusUnauthorized},
		{"просрочен", "Bearer " + generateUserToken(t, key, "user-1", "u", nil, []string{"bpo-workers"}, true), http.StatusUnauthorized},
		{"чужой ключ", "Bearer " + generateUserToken(t, otherKey, "user-1", "u", nil, []string{"bpo-workers"}, false), http.StatusUnauthorized},
		{"чужой issuer", "Bearer " + wrongIssuer, http.StatusUnauthorized},
		{"без exp", "Bearer " + noExp, http.StatusUnauthorized},
		{"без роли", "Bearer " + generateUserToken(t, key, "user-1", "u", nil, []string{"guests"}, false), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/file-requests", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestJWTAuth_GroupMapping(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		roles  []string
		want   string
	}{
		{"исполнитель", []string{"bpo-workers"}, nil, rbac.RoleWorker},
		{"менеджер", []string{"bpo-managers"}, nil, rbac.RoleManager},
		{"максимальная роль", []string{"bpo-workers", "bpo-admins"}, nil, rbac.RoleAdmin},
		{"fallback на realm roles", nil, []string{"offline_access", "manager"}, rbac.RoleManager},
		{"группы приоритетнее ролей", []string{"bpo-workers"}, []string{"admin"}, rbac.RoleWorker},
	}

	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClaimsFromContext(r.Context()).EffectiveRole
				w.WriteHeader(http.StatusOK)
			}))
			token := generateUserToken(t, key, "user-1", "u", tt.roles, tt.groups, false)
			if rec := serve(handler, token); rec.Code != http.StatusOK {
				t.Fatalf("статус = %d", rec.Code)
			}
			if got != tt.want {
				t.Errorf("EffectiveRole = %q, ожидалась %q", got, tt.want)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		min      string
		wantCode int
	}{
		{"менеджер на менеджерский", rbac.RoleManager, rbac.RoleManager, http.StatusOK},
		{"админ на менеджерский", rbac.RoleAdmin, rbac.RoleManager, http.StatusOK},
		{"исполнитель на менеджерский", rbac.RoleWorker, rbac.RoleManager, http.StatusForbidden},
		{"менеджер на админский", rbac.RoleManager, rbac.RoleAdmin, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireRole(tt.min)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/file-processes", nil)
			req = req.WithContext(ContextWithClaims(req.Context(), &AuthClaims{
				Subject: "u-1", SubjectType: SubjectTypeUser, EffectiveRole: tt.role,
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantCode)
			}
		})
	}

	t.Run("без claims", func(t *testing.T) {
		handler := RequireRole(rbac.RoleWorker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler не должен быть вызван")
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("статус = %d, ожидался 401", rec.Code)
		}
	})
}

func TestKeycloakReadinessChecker(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"ключи есть", http.StatusOK, `{"keys":[{"kid":"a"}]}`, statusOK},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, statusDegraded},
		{"ошибка сервера", http.StatusInternalServerError, ``, statusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			checker, err := NewKeycloakReadinessChecker(srv.URL, "", time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if got, msg := checker.CheckReady(); got != tt.want {
				t.Errorf("CheckReady() = %q (%s), ожидалось %q", got, msg, tt.want)
			}
		})
	}
}
