// Пакет config — загрузка и валидация конфигурации File Allocator
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы хранилища метаданных.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Хранилища архивов результатов.
const (
	ArtifactBackendFS = "fs"
	ArtifactBackendS3 = "s3"
)

// Config содержит все параметры конфигурации File Allocator.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Префикс ссылок на скачивание среза (пусто — относительные ссылки)
	PublicBaseURL string

	// --- Хранилище метаданных ---

	// Драйвер: postgres или memory (без сохранения между запусками)
	StorageDriver string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Файлы ---

	// Корневая директория файлов (sources/, artifacts/, tmp/)
	DataDir string
	// Максимальный размер исходного файла
	MaxSourceSize int64
	// Максимальный размер архива результата
	MaxArtifactSize int64

	// --- Хранилище архивов ---

	// fs (в DataDir) или s3
	ArtifactBackend string
	S3Bucket        string
	S3Region        string
	// Адрес S3-совместимого сервиса (MinIO и т.п.)
	S3Endpoint string
	// Префикс ключей в бакете
	S3Prefix string

	// --- Срезы ---

	// Шаг контрольных точек индекса в строках данных (0 — без индекса)
	SliceIndexStride int64
	// Размер кэша индексов
	SliceIndexCacheSize int
	// Время жизни записи кэша индексов
	SliceIndexCacheTTL time.Duration

	// --- Отчётность ---

	// Часовой пояс, определяющий дату записей дневной выработки
	ReportLocation *time.Location

	// --- Keycloak / JWT ---

	KeycloakURL   string
	KeycloakRealm string
	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Путь к CA-сертификату для TLS-соединения с Keycloak (опционально)
	CACertPath string

	// --- Маппинг групп → ролей ---

	RoleAdminGroups   []string
	RoleManagerGroups []string
	RoleWorkerGroups  []string
	// Scope сервисного аккаунта, дающий роль admin
	SAAdminScope string

	// --- Мониторинг зависимостей ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FA_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("FA_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("FA_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FA_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FA_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FA_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("FA_PUBLIC_BASE_URL", ""), "/")

	// --- Хранилище метаданных ---

	cfg.StorageDriver = getEnvDefault("FA_STORAGE_DRIVER", StorageDriverPostgres)
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case StorageDriverMemory:
	default:
		return nil, fmt.Errorf("FA_STORAGE_DRIVER: недопустимое значение %q, допустимые: postgres, memory", cfg.StorageDriver)
	}

	// --- Файлы ---

	// FA_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("FA_DATA_DIR")
	if err != nil {
		return nil, err
	}

	cfg.MaxSourceSize, err = getEnvInt64("FA_MAX_SOURCE_SIZE", 2<<30)
	if err != nil {
		return nil, fmt.Errorf("FA_MAX_SOURCE_SIZE: %w", err)
	}
	cfg.MaxArtifactSize, err = getEnvInt64("FA_MAX_ARTIFACT_SIZE", 512<<20)
	if err != nil {
		return nil, fmt.Errorf("FA_MAX_ARTIFACT_SIZE: %w", err)
	}
	if cfg.MaxSourceSize <= 0 || cfg.MaxArtifactSize <= 0 {
		return nil, fmt.Errorf("FA_MAX_SOURCE_SIZE и FA_MAX_ARTIFACT_SIZE должны быть положительными")
	}

	// --- Хранилище архивов ---

	cfg.ArtifactBackend = getEnvDefault("FA_ARTIFACT_BACKEND", ArtifactBackendFS)
	switch cfg.ArtifactBackend {
	case ArtifactBackendFS:
	case ArtifactBackendS3:
		cfg.S3Bucket, err = getEnvRequired("FA_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.S3Region = getEnvDefault("FA_S3_REGION", "us-east-1")
		cfg.S3Endpoint = getEnvDefault("FA_S3_ENDPOINT", "")
		cfg.S3Prefix = strings.Trim(getEnvDefault("FA_S3_PREFIX", ""), "/")
	default:
		return nil, fmt.Errorf("FA_ARTIFACT_BACKEND: недопустимое значение %q, допустимые: fs, s3", cfg.ArtifactBackend)
	}

	// --- Срезы ---

	cfg.SliceIndexStride, err = getEnvInt64("FA_SLICE_INDEX_STRIDE", 10000)
	if err != nil {
		return nil, fmt.Errorf("FA_SLICE_INDEX_STRIDE: %w", err)
	}
	if cfg.SliceIndexStride < 0 {
		return nil, fmt.Errorf("FA_SLICE_INDEX_STRIDE: значение %d не может быть отрицательным", cfg.SliceIndexStride)
	}
	cfg.SliceIndexCacheSize, err = getEnvInt("FA_SLICE_INDEX_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("FA_SLICE_INDEX_CACHE_SIZE: %w", err)
	}
	if cfg.SliceIndexCacheSize < 1 {
		return nil, fmt.Errorf("FA_SLICE_INDEX_CACHE_SIZE: значение %d должно быть положительным", cfg.SliceIndexCacheSize)
	}
	cfg.SliceIndexCacheTTL, err = getEnvDuration("FA_SLICE_INDEX_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FA_SLICE_INDEX_CACHE_TTL: %w", err)
	}

	// --- Отчётность ---

	cfg.ReportLocation, err = time.LoadLocation(getEnvDefault("FA_REPORT_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("FA_REPORT_TIMEZONE: %w", err)
	}

	// --- Keycloak / JWT ---

	cfg.KeycloakURL, err = getEnvRequired("FA_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")
	cfg.KeycloakRealm = getEnvDefault("FA_KEYCLOAK_REALM", "bpo")

	cfg.JWTIssuer = getEnvDefault("FA_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("FA_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWKSClientTimeout, err = getEnvDuration("FA_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FA_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("FA_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FA_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("FA_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FA_JWT_LEEWAY: %w", err)
	}
	cfg.CACertPath = getEnvDefault("FA_CA_CERT_PATH", "")

	// --- Маппинг групп → ролей ---

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("FA_ROLE_ADMIN_GROUPS", "bpo-admins"))
	cfg.RoleManagerGroups = parseCSV(getEnvDefault("FA_ROLE_MANAGER_GROUPS", "bpo-managers"))
	cfg.RoleWorkerGroups = parseCSV(getEnvDefault("FA_ROLE_WORKER_GROUPS", "bpo-workers"))
	cfg.SAAdminScope = getEnvDefault("FA_SA_ADMIN_SCOPE", "allocator:admin")

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("FA_DEPHEALTH_GROUP", "bpo")
	cfg.DephealthCheckInterval, err = getEnvDuration("FA_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FA_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("FA_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FA_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadPostgres загружает параметры PostgreSQL (обязательны для драйвера postgres).
func loadPostgres(cfg *Config) error {
	var err error

	if cfg.DBHost, err = getEnvRequired("FA_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("FA_DB_PORT", 5432); err != nil {
		return fmt.Errorf("FA_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("FA_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("FA_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("FA_DB_PASSWORD"); err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("FA_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("FA_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL базы данных для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 из переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
