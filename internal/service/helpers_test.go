package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/domain/rbac"
	"github.com/bigkaa/wfm-allocator/internal/repository/memstore"
	"github.com/bigkaa/wfm-allocator/internal/storage/filestore"
)

var (
	testManager = Caller{UserID: "mgr-1", Username: "manager", Role: rbac.RoleManager}
	testAdmin   = Caller{UserID: "adm-1", Username: "admin", Role: rbac.RoleAdmin}
	testWorker  = Caller{UserID: "wrk-1", Username: "ivanov", Role: rbac.RoleWorker}
	testOther   = Caller{UserID: "wrk-2", Username: "petrov", Role: rbac.RoleWorker}
)

const (
	testStride      = 10
	testMaxArtifact = 1 << 20
)

// testEnv — сервисы поверх хранилища в памяти и файлов во временной директории.
type testEnv struct {
	store     *memstore.Store
	files     *filestore.FileStore
	cache     *IndexCache
	processes *FileProcessService
	requests  *FileRequestService
	slices    *SliceService
	artifacts *ArtifactService
	verify    *VerificationService
	counts    *DailyCountService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	store := memstore.New()
	cache := NewIndexCache(16, time.Hour)
	logger := testLogger()

	return &testEnv{
		store:     store,
		files:     files,
		cache:     cache,
		processes: NewFileProcessService(store, files, cache, testStride, 1<<20, logger),
		requests:  NewFileRequestService(store, "http://allocator.local", logger),
		slices:    NewSliceService(store, files, cache, testStride, logger),
		artifacts: NewArtifactService(store, files, files, testMaxArtifact, logger),
		verify:    NewVerificationService(store, time.UTC, logger),
		counts:    NewDailyCountService(store, time.UTC, logger),
	}
}

// csvSource — одна строка заголовка и rows строк данных "i,row-i".
func csvSource(rows int) string {
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%d,row-%d\n", i, i)
	}
	return b.String()
}

// newProcess создаёт процесс с заголовком в одну строку и загружает источник.
func (e *testEnv) newProcess(t *testing.T, rows int) *model.FileProcess {
	t.Helper()
	ctx := context.Background()
	p, err := e.processes.Create(ctx, testManager, CreateProcessParams{
		Name: "leads", ProjectID: "proj-1", Type: model.ProcessTypeManual, HeaderRows: 1,
	})
	if err != nil {
		t.Fatalf("Create процесса: %v", err)
	}
	p, err = e.processes.UploadSource(ctx, testManager, p.ID, "leads.csv", strings.NewReader(csvSource(rows)))
	if err != nil {
		t.Fatalf("UploadSource: %v", err)
	}
	return p
}

func (e *testEnv) newRequest(t *testing.T, caller Caller, processID string, count int64) *model.FileRequest {
	t.Helper()
	req, err := e.requests.Create(context.Background(), caller, CreateRequestParams{
		FileProcessID: processID, RequestedCount: count,
	})
	if err != nil {
		t.Fatalf("Create заявки: %v", err)
	}
	return req
}

func (e *testEnv) approve(t *testing.T, requestID string) *model.FileRequest {
	t.Helper()
	req, err := e.requests.Approve(context.Background(), testManager, requestID, ApproveParams{})
	if err != nil {
		t.Fatalf("Approve %s: %v", requestID, err)
	}
	return req
}

// download скачивает срез заявки целиком.
func (e *testEnv) download(t *testing.T, caller Caller, requestID string) (*SliceDownload, string) {
	t.Helper()
	d, err := e.slices.Open(context.Background(), caller, requestID)
	if err != nil {
		t.Fatalf("Open среза: %v", err)
	}
	defer d.Close()

	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return d, buf.String()
}

// inReview проводит заявку через распределение, скачивание и загрузку результата.
func (e *testEnv) inReview(t *testing.T, processID string, count int64) *model.FileRequest {
	t.Helper()
	req := e.newRequest(t, testWorker, processID, count)
	e.approve(t, req.ID)
	e.download(t, testWorker, req.ID)
	req, err := e.artifacts.Upload(context.Background(), testWorker, req.ID, "result.zip", nil,
		bytes.NewReader(zipBytes(t, map[string]string{"out.csv": "done\n"})))
	if err != nil {
		t.Fatalf("Upload архива: %v", err)
	}
	return req
}

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip.Close: %v", err)
	}
	return buf.Bytes()
}
