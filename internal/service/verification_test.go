package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
)

func countsOf(t *testing.T, env *testEnv, userID string) []*model.DailyCount {
	t.Helper()
	items, err := env.store.DailyCounts().List(context.Background(), repository.DailyCountFilter{UserID: &userID})
	if err != nil {
		t.Fatal(err)
	}
	return items
}

// TestVerificationService_Reject — rework, rework_count 1, rejected-запись,
// счётчики процесса не меняются.
func TestVerificationService_Reject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newProcess(t, 100)
	req := env.inReview(t, p.ID, 30)
	before, _ := env.processes.Get(ctx, p.ID)
	notes := "неполные данные"

	got, err := env.verify.Verify(ctx, testManager, req.ID, VerifyReject, &notes)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Status != model.RequestRework || got.VerificationStatus != model.VerificationRejected {
		t.Errorf("статусы = %s/%s", got.Status, got.VerificationStatus)
	}
	if got.ReworkCount != 1 {
		t.Errorf("ReworkCount = %d, ожидалось 1", got.ReworkCount)
	}
	if got.VerifiedBy == nil || *got.VerifiedBy != testManager.UserID || got.VerifiedAt == nil {
		t.Errorf("проверяющий не отмечен: %+v", got)
	}
	if got.VerificationNotes == nil || *got.VerificationNotes != notes {
		t.Errorf("VerificationNotes = %v", got.VerificationNotes)
	}

	counts := countsOf(t, env, testWorker.UserID)
	if len(counts) != 1 {
		t.Fatalf("записей выработки = %d, ожидалась 1", len(counts))
	}
	if counts[0].Status != model.DailyCountRejected || counts[0].SubmittedCount != 30 || counts[0].RequestCount != 1 {
		t.Errorf("запись = %+v", counts[0])
	}

	after, _ := env.processes.Get(ctx, p.ID)
	if after.ProcessedRows != before.ProcessedRows || after.AvailableRows != before.AvailableRows {
		t.Errorf("счётчики процесса изменились: %d/%d → %d/%d",
			before.ProcessedRows, before.AvailableRows, after.ProcessedRows, after.AvailableRows)
	}
}

// TestVerificationService_Approve — выработка увеличивается ровно на assigned_count.
func TestVerificationService_Approve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verify.now = func() time.Time { return time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC) }
	p := env.newProcess(t, 100)
	first := env.inReview(t, p.ID, 20)
	second := env.inReview(t, p.ID, 15)

	got, err := env.verify.Verify(ctx, testManager, first.ID, VerifyApprove, nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Status != model.RequestCompleted || got.VerificationStatus != model.VerificationApproved {
		t.Errorf("статусы = %s/%s", got.Status, got.VerificationStatus)
	}
	if _, err := env.verify.Verify(ctx, testAdmin, second.ID, VerifyApprove, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	counts := countsOf(t, env, testWorker.UserID)
	if len(counts) != 1 {
		t.Fatalf("записей выработки = %d, ожидалась 1", len(counts))
	}
	dc := counts[0]
	if dc.Status != model.DailyCountApproved || dc.SubmittedCount != 35 || dc.RequestCount != 2 {
		t.Errorf("запись = %+v", dc)
	}
	if !dc.CountDate.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CountDate = %v", dc.CountDate)
	}
	if dc.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %s", dc.ProjectID)
	}
}

// TestVerificationService_ReportTimezone — дата выработки в часовом поясе отчётности.
func TestVerificationService_ReportTimezone(t *testing.T) {
	env := newTestEnv(t)
	loc := time.FixedZone("MSK", 3*60*60)
	env.verify = NewVerificationService(env.store, loc, testLogger())
	env.verify.now = func() time.Time { return time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC) }

	p := env.newProcess(t, 10)
	req := env.inReview(t, p.ID, 2)
	if _, err := env.verify.Verify(context.Background(), testManager, req.ID, VerifyApprove, nil); err != nil {
		t.Fatal(err)
	}

	counts := countsOf(t, env, testWorker.UserID)
	if len(counts) != 1 || counts[0].CountDate.Day() != 15 {
		t.Errorf("ожидалась дата 15 марта по MSK: %+v", counts)
	}
}

func TestVerificationService_DoubleApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newProcess(t, 100)
	req := env.inReview(t, p.ID, 10)

	if _, err := env.verify.Verify(ctx, testManager, req.ID, VerifyApprove, nil); err != nil {
		t.Fatal(err)
	}
	_, err := env.verify.Verify(ctx, testManager, req.ID, VerifyApprove, nil)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("ошибка = %v, ожидалась ErrAlreadyProcessed", err)
	}

	counts := countsOf(t, env, testWorker.UserID)
	if len(counts) != 1 || counts[0].SubmittedCount != 10 {
		t.Errorf("двойной учёт выработки: %+v", counts)
	}
}

// TestVerificationService_ConcurrentApprove — из параллельных проверок
// проходит ровно одна.
func TestVerificationService_ConcurrentApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newProcess(t, 100)
	req := env.inReview(t, p.ID, 12)

	var ok, conflicts atomic.Int32
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := env.verify.Verify(ctx, testManager, req.ID, VerifyApprove, nil)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyProcessed):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if ok.Load() != 1 || conflicts.Load() != 7 {
		t.Errorf("успешных = %d, конфликтов = %d", ok.Load(), conflicts.Load())
	}

	counts := countsOf(t, env, testWorker.UserID)
	if len(counts) != 1 || counts[0].SubmittedCount != 12 || counts[0].RequestCount != 1 {
		t.Errorf("выработка = %+v", counts)
	}
}

func TestVerificationService_Rejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newProcess(t, 10)
	req := env.inReview(t, p.ID, 2)
	started := env.approve(t, env.newRequest(t, testWorker, p.ID, 2).ID)

	if _, err := env.verify.Verify(ctx, testWorker, req.ID, VerifyApprove, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("исполнитель: %v, ожидалась ErrForbidden", err)
	}
	if _, err := env.verify.Verify(ctx, testManager, req.ID, "maybe", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестное действие: %v, ожидалась ErrValidation", err)
	}
	if _, err := env.verify.Verify(ctx, testManager, started.ID, VerifyApprove, nil); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("не на проверке: %v, ожидалась ErrAlreadyProcessed", err)
	}
	if _, err := env.verify.Verify(ctx, testManager, "missing", VerifyApprove, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет заявки: %v, ожидалась ErrNotFound", err)
	}
	if len(countsOf(t, env, testWorker.UserID)) != 0 {
		t.Error("отказы не должны создавать выработку")
	}
}
