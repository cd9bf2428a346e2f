package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bigkaa/wfm-allocator/internal/domain/lifecycle"
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
)

// startedRequest — заявка, по которой исполнитель скачал срез.
func (e *testEnv) startedRequest(t *testing.T, rows int, count int64) *model.FileRequest {
	t.Helper()
	p := e.newProcess(t, rows)
	req := e.approve(t, e.newRequest(t, testWorker, p.ID, count).ID)
	e.download(t, testWorker, req.ID)
	return req
}

// TestArtifactService_NotArchive — не архив: UnsupportedFormat, статус не меняется.
func TestArtifactService_NotArchive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.startedRequest(t, 10, 5)

	_, err := env.artifacts.Upload(ctx, testWorker, req.ID, "result.csv", nil, strings.NewReader("a,b\n"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("расширение: %v, ожидалась ErrUnsupportedFormat", err)
	}
	_, err = env.artifacts.Upload(ctx, testWorker, req.ID, "result.zip", nil, strings.NewReader("not a zip"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("содержимое: %v, ожидалась ErrUnsupportedFormat", err)
	}

	got, _ := env.requests.Get(ctx, testWorker, req.ID)
	if got.Status != model.RequestInProgress || got.Artifact != nil {
		t.Errorf("заявка изменилась: %s, %+v", got.Status, got.Artifact)
	}
}

func TestArtifactService_Upload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.startedRequest(t, 10, 5)
	notes := "готово"
	payload := zipBytes(t, map[string]string{"a.csv": "1\n", "b.csv": "2\n"})

	got, err := env.artifacts.Upload(ctx, testWorker, req.ID, "Result.ZIP", &notes, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got.Status != model.RequestInReview || got.VerificationStatus != model.VerificationPending {
		t.Errorf("статусы = %s/%s", got.Status, got.VerificationStatus)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt не заполнен")
	}
	art := got.Artifact
	if art == nil || art.FileName != "Result.ZIP" || art.Entries != 2 || art.Size != int64(len(payload)) {
		t.Fatalf("Artifact = %+v", art)
	}
	if !strings.HasPrefix(art.StoragePath, "artifacts/"+req.ID+"/") {
		t.Errorf("StoragePath = %s", art.StoragePath)
	}

	dl, err := env.artifacts.Open(ctx, testManager, req.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dl.Body.Close()
	body, _ := io.ReadAll(dl.Body)
	if !bytes.Equal(body, payload) || dl.Size != int64(len(payload)) {
		t.Error("скачанный архив отличается от загруженного")
	}

	if _, err := env.artifacts.Open(ctx, testOther, req.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой исполнитель: %v, ожидалась ErrForbidden", err)
	}
}

// TestArtifactService_ReuploadAfterRework — архив заменяется, completed_at сохраняется.
func TestArtifactService_ReuploadAfterRework(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newProcess(t, 10)
	req := env.inReview(t, p.ID, 4)
	firstPath := req.Artifact.StoragePath
	firstCompleted := *req.CompletedAt

	if _, err := env.verify.Verify(ctx, testManager, req.ID, VerifyReject, nil); err != nil {
		t.Fatalf("reject: %v", err)
	}

	got, err := env.artifacts.Upload(ctx, testWorker, req.ID, "fixed.zip", nil,
		bytes.NewReader(zipBytes(t, map[string]string{"fixed.csv": "ok\n"})))
	if err != nil {
		t.Fatalf("повторная загрузка: %v", err)
	}
	if got.Status != model.RequestInReview || got.VerificationStatus != model.VerificationPending {
		t.Errorf("статусы = %s/%s", got.Status, got.VerificationStatus)
	}
	if got.Artifact.FileName != "fixed.zip" {
		t.Errorf("FileName = %s", got.Artifact.FileName)
	}
	if !got.CompletedAt.Equal(firstCompleted) {
		t.Error("CompletedAt должен сохраняться при доработке")
	}
	if got.ReworkCount != 1 {
		t.Errorf("ReworkCount = %d, ожидалось 1", got.ReworkCount)
	}
	if env.files.Exists(firstPath) {
		t.Error("заменённый архив должен быть удалён")
	}
}

func TestArtifactService_UploadRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.newProcess(t, 10)
	assigned := env.approve(t, env.newRequest(t, testWorker, p.ID, 2).ID)
	zipped := zipBytes(t, map[string]string{"a": "b"})

	_, err := env.artifacts.Upload(ctx, testWorker, assigned.ID, "r.zip", nil, bytes.NewReader(zipped))
	var terr *lifecycle.TransitionError
	if !errors.As(err, &terr) {
		t.Errorf("загрузка до скачивания: %v, ожидалась TransitionError", err)
	}

	started := env.startedRequest(t, 10, 2)
	if _, err := env.artifacts.Upload(ctx, testOther, started.ID, "r.zip", nil, bytes.NewReader(zipped)); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой исполнитель: %v, ожидалась ErrForbidden", err)
	}

	big := bytes.Repeat([]byte{0}, testMaxArtifact+1)
	if _, err := env.artifacts.Upload(ctx, testWorker, started.ID, "r.zip", nil, bytes.NewReader(big)); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("большой архив: %v, ожидалась ErrFileTooLarge", err)
	}

	empty := zipBytes(t, nil)
	if _, err := env.artifacts.Upload(ctx, testWorker, started.ID, "r.zip", nil, bytes.NewReader(empty)); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой архив: %v, ожидалась ErrValidation", err)
	}
}

func TestArtifactService_OpenMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.startedRequest(t, 10, 2)

	if _, err := env.artifacts.Open(ctx, testWorker, req.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("без загрузки: %v, ожидалась ErrFileNotFound", err)
	}

	got, err := env.artifacts.Upload(ctx, testWorker, req.ID, "r.zip", nil,
		bytes.NewReader(zipBytes(t, map[string]string{"a": "b"})))
	if err != nil {
		t.Fatal(err)
	}
	if err := env.files.Remove(ctx, got.Artifact.StoragePath); err != nil {
		t.Fatal(err)
	}
	if _, err := env.artifacts.Open(ctx, testWorker, req.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("файл удалён с диска: %v, ожидалась ErrFileNotFound", err)
	}
}
