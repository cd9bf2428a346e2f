package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/wfm-allocator/internal/database"
	"github.com/bigkaa/wfm-allocator/internal/domain/allocation"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("allocator_test"),
		postgres.WithUsername("allocator"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	migrateURL := fmt.Sprintf("pgx5://allocator:test-password@%s:%s/allocator_test?sslmode=disable", host, port.Port())
	if err := database.MigrateURL(migrateURL, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s dbname=allocator_test user=allocator password=test-password sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// createProcess создаёт процесс с загруженным источником на total строк.
func createProcess(t *testing.T, store Store, total int64) *model.FileProcess {
	t.Helper()
	ctx := context.Background()
	name, path, sum := "leads.csv", "sources/x/leads.csv", "abc"

	p := &model.FileProcess{
		ID: uuid.NewString(), Name: "Лиды март", ProjectID: "proj-1",
		Type: model.ProcessTypeManual, Status: model.ProcessPending,
		HeaderRows: 1, CreatedBy: "manager-1",
	}
	if err := store.FileProcesses().Create(ctx, p); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	p.SourceFileName, p.StoragePath, p.SourceChecksum = &name, &path, &sum
	p.TotalRows = total
	p.Status = model.ProcessActive
	if err := store.FileProcesses().AttachSource(ctx, p); err != nil {
		t.Fatalf("AttachSource() ошибка: %v", err)
	}
	return p
}

func createRequest(t *testing.T, store Store, p *model.FileProcess, requested int64) *model.FileRequest {
	t.Helper()
	req := &model.FileRequest{
		ID: uuid.NewString(), UserID: "worker-1", FileProcessID: p.ID, ProjectID: p.ProjectID,
		RequestedCount: requested, Status: model.RequestPending, VerificationStatus: model.VerificationNone,
	}
	if err := store.FileRequests().Create(context.Background(), req); err != nil {
		t.Fatalf("Create() заявки ошибка: %v", err)
	}
	return req
}

// allocate — распределение в транзакции с блокировкой строки процесса.
func allocate(ctx context.Context, store Store, processID, requestID string) (allocation.Range, error) {
	var rng allocation.Range
	err := store.InTx(ctx, func(tx Store) error {
		req, err := tx.FileRequests().GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		p, err := tx.FileProcesses().GetForUpdate(ctx, processID)
		if err != nil {
			return err
		}
		rng, err = allocation.Next(p.TotalRows, p.ProcessedRows, req.RequestedCount)
		if err != nil {
			return err
		}
		if err := tx.FileProcesses().AdvanceProcessed(ctx, p, rng.AssignedCount); err != nil {
			return err
		}
		now := time.Now().UTC()
		req.AssignedCount, req.StartRow, req.EndRow, req.AssignedAt = rng.AssignedCount, rng.StartRow, rng.EndRow, &now
		return tx.FileRequests().Assign(ctx, req)
	})
	return rng, err
}

func TestIntegration_ConcurrentAllocationIsDisjoint(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()

	p := createProcess(t, store, 1000)
	var reqs []*model.FileRequest
	for i := 0; i < 30; i++ {
		reqs = append(reqs, createRequest(t, store, p, 50))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ranges []allocation.Range
	for _, r := range reqs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			rng, err := allocate(ctx, store, p.ID, id)
			if err != nil {
				return
			}
			mu.Lock()
			ranges = append(ranges, rng)
			mu.Unlock()
		}(r.ID)
	}
	wg.Wait()

	if len(ranges) != 20 {
		t.Fatalf("распределено %d заявок, ожидалось 20 (1000 / 50)", len(ranges))
	}
	covered := make([]bool, 1001)
	for _, r := range ranges {
		for row := r.StartRow; row <= r.EndRow; row++ {
			if covered[row] {
				t.Fatalf("строка %d выделена дважды", row)
			}
			covered[row] = true
		}
	}

	got, err := store.FileProcesses().GetByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessedRows != 1000 || got.AvailableRows != 0 || got.Status != model.ProcessCompleted {
		t.Errorf("processed=%d available=%d status=%s", got.ProcessedRows, got.AvailableRows, got.Status)
	}
}

func TestIntegration_AttachSourceAfterAllocation(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()

	p := createProcess(t, store, 10)
	req := createRequest(t, store, p, 3)
	if _, err := allocate(ctx, store, p.ID, req.ID); err != nil {
		t.Fatal(err)
	}

	p.TotalRows = 20
	if err := store.FileProcesses().AttachSource(ctx, p); err == nil {
		t.Error("замена источника после распределения должна завершаться ErrConflict")
	}
}

func TestIntegration_DailyCountUpsert(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	approved := model.DailyCountKey{UserID: "w-1", ProjectID: "proj-1", Date: day, Status: model.DailyCountApproved}
	rejected := approved
	rejected.Status = model.DailyCountRejected

	for _, step := range []struct {
		key model.DailyCountKey
		n   int64
	}{{approved, 60}, {approved, 40}, {rejected, 40}} {
		if err := store.DailyCounts().AddDelta(ctx, step.key, step.n, 1); err != nil {
			t.Fatalf("AddDelta() ошибка: %v", err)
		}
	}

	list, err := store.DailyCounts().List(ctx, DailyCountFilter{UserID: &approved.UserID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("ожидалось 2 записи (approved и rejected), получено %d", len(list))
	}
	for _, dc := range list {
		switch dc.Status {
		case model.DailyCountApproved:
			if dc.SubmittedCount != 100 || dc.RequestCount != 2 {
				t.Errorf("approved: submitted=%d requests=%d", dc.SubmittedCount, dc.RequestCount)
			}
		case model.DailyCountRejected:
			if dc.SubmittedCount != 40 || dc.RequestCount != 1 {
				t.Errorf("rejected: submitted=%d requests=%d", dc.SubmittedCount, dc.RequestCount)
			}
		}
	}
}

// Приращение, ожидающее блокировку, ложится поверх пересчитанных агрегатов,
// а не удаляется пересчётом.
func TestIntegration_LockUserSerializesRebuild(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPgStore(pool)
	ctx := context.Background()
	key := model.DailyCountKey{UserID: "w-lock", ProjectID: "proj-1",
		Date: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), Status: model.DailyCountApproved}

	if err := store.DailyCounts().AddDelta(ctx, key, 10, 1); err != nil {
		t.Fatal(err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	rebuildErr := make(chan error, 1)
	go func() {
		rebuildErr <- store.InTx(ctx, func(tx Store) error {
			if err := tx.DailyCounts().LockUser(ctx, key.UserID); err != nil {
				return err
			}
			close(locked)
			<-release
			if _, err := tx.DailyCounts().DeleteByUser(ctx, key.UserID, model.DailyCountApproved); err != nil {
				return err
			}
			return tx.DailyCounts().AddDelta(ctx, key, 30, 2)
		})
	}()
	<-locked

	deltaDone := make(chan error, 1)
	go func() {
		deltaDone <- store.InTx(ctx, func(tx Store) error {
			if err := tx.DailyCounts().LockUser(ctx, key.UserID); err != nil {
				return err
			}
			return tx.DailyCounts().AddDelta(ctx, key, 5, 1)
		})
	}()

	select {
	case err := <-deltaDone:
		t.Fatalf("приращение выполнено до снятия блокировки: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	close(release)
	if err := <-rebuildErr; err != nil {
		t.Fatalf("пересчёт: %v", err)
	}
	if err := <-deltaDone; err != nil {
		t.Fatalf("приращение: %v", err)
	}

	list, err := store.DailyCounts().List(ctx, DailyCountFilter{UserID: &key.UserID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].SubmittedCount != 35 || list[0].RequestCount != 3 {
		t.Fatalf("ожидалось submitted=35 requests=3, получено %+v", list)
	}
}
