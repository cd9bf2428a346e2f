package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/wfm-allocator/internal/api/handlers"
	"github.com/bigkaa/wfm-allocator/internal/api/middleware"
	"github.com/bigkaa/wfm-allocator/internal/api/openapi"
	"github.com/bigkaa/wfm-allocator/internal/config"
	"github.com/bigkaa/wfm-allocator/internal/database"
	"github.com/bigkaa/wfm-allocator/internal/repository"
	"github.com/bigkaa/wfm-allocator/internal/repository/memstore"
	"github.com/bigkaa/wfm-allocator/internal/server"
	"github.com/bigkaa/wfm-allocator/internal/service"
	"github.com/bigkaa/wfm-allocator/internal/storage/filestore"
	"github.com/bigkaa/wfm-allocator/internal/storage/s3store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP-сервер",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe поднимает хранилища, сервисный слой и HTTP-сервер
// и блокируется до сигнала завершения.
func runServe(ctx context.Context) error {
	logger.Info("File Allocator запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.StorageDriver),
		slog.String("artifacts", cfg.ArtifactBackend),
	)

	if os.Getenv("FA_DEPHEALTH_GROUP") == "" {
		logger.Warn("FA_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 1. Встроенное описание API
	if _, err := openapi.Load(ctx); err != nil {
		return fmt.Errorf("описание API: %w", err)
	}

	// 2. Хранилище метаданных
	var (
		store  repository.Store
		pgDB   *sql.DB
		checks []handlers.NamedChecker
	)
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return fmt.Errorf("миграции БД: %w", err)
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("подключение к PostgreSQL: %w", err)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		store = repository.NewPgStore(pool)
		checks = append(checks, handlers.NamedChecker{Name: "postgresql", Checker: database.NewReadinessChecker(pool)})
	default:
		logger.Warn("Метаданные хранятся в памяти и теряются при перезапуске")
		store = memstore.New()
	}

	// 3. Файлы: исходники, временные файлы и (по умолчанию) архивы
	files, err := filestore.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("хранилище файлов: %w", err)
	}
	checks = append(checks, handlers.NamedChecker{Name: "filestore", Checker: database.NewPingChecker("filestore", files)})

	var artifacts service.ArtifactStore = files
	if cfg.ArtifactBackend == config.ArtifactBackendS3 {
		s3, err := s3store.New(ctx, s3store.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
		if err != nil {
			return fmt.Errorf("хранилище архивов S3: %w", err)
		}
		artifacts = s3
		checks = append(checks, handlers.NamedChecker{Name: "s3", Checker: database.NewPingChecker("S3", s3)})
		logger.Info("Архивы результатов хранятся в S3",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("prefix", cfg.S3Prefix),
		)
	}

	// 4. Сервисы
	cache := service.NewIndexCache(cfg.SliceIndexCacheSize, cfg.SliceIndexCacheTTL)
	apiHandler := handlers.NewAPIHandler(handlers.Services{
		Processes:    service.NewFileProcessService(store, files, cache, cfg.SliceIndexStride, cfg.MaxSourceSize, logger),
		Requests:     service.NewFileRequestService(store, cfg.PublicBaseURL, logger),
		Slices:       service.NewSliceService(store, files, cache, cfg.SliceIndexStride, logger),
		Artifacts:    service.NewArtifactService(store, files, artifacts, cfg.MaxArtifactSize, logger),
		Verification: service.NewVerificationService(store, cfg.ReportLocation, logger),
		DailyCounts:  service.NewDailyCountService(store, cfg.ReportLocation, logger),
	}, logger)

	// 5. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		middleware.RoleGroups{
			Admin:        cfg.RoleAdminGroups,
			Manager:      cfg.RoleManagerGroups,
			Worker:       cfg.RoleWorkerGroups,
			SAAdminScope: cfg.SAAdminScope,
		},
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		return fmt.Errorf("JWT middleware: %w", err)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 6. Readiness
	kcChecker, err := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		return fmt.Errorf("keycloak readiness checker: %w", err)
	}
	checks = append(checks, handlers.NamedChecker{Name: "keycloak", Checker: kcChecker})
	healthHandler := handlers.NewHealthHandler(checks...)

	// 7. topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, err := service.NewDephealthService(service.DephealthParams{
		ServiceID:       "file-allocator",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PgConnURL:       fmt.Sprintf("postgres://%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
	}

	// 8. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, healthHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		return err
	}

	logger.Info("File Allocator остановлен")
	return nil
}
