// Пакет memstore — хранилище метаданных в памяти (FA_STORAGE_DRIVER=memory).
//
// Транзакция удерживает общий мьютекс от начала до конца, поэтому
// транзакции полностью сериализованы. При ошибке состояние
// восстанавливается из снимка, сделанного в начале транзакции.
// Данные не переживают перезапуск процесса.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/repository"
)

// state — данные хранилища.
type state struct {
	processes map[string]*model.FileProcess
	requests  map[string]*model.FileRequest
	counts    map[model.DailyCountKey]*model.DailyCount
}

func newState() *state {
	return &state{
		processes: make(map[string]*model.FileProcess),
		requests:  make(map[string]*model.FileRequest),
		counts:    make(map[model.DailyCountKey]*model.DailyCount),
	}
}

// clone — глубокая копия для снимка транзакции.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.processes {
		c.processes[k] = cloneProcess(v)
	}
	for k, v := range s.requests {
		c.requests[k] = cloneRequest(v)
	}
	for k, v := range s.counts {
		dc := *v
		c.counts[k] = &dc
	}
	return c
}

// Store — repository.Store в памяти.
type Store struct {
	mu   *sync.Mutex
	data *state
	// inTx — мьютекс уже удерживается транзакцией
	inTx bool
	now  func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) FileProcesses() repository.FileProcessRepository { return processRepo{s} }
func (s *Store) FileRequests() repository.FileRequestRepository  { return requestRepo{s} }
func (s *Store) DailyCounts() repository.DailyCountRepository    { return countRepo{s} }

// InTx выполняет fn под мьютексом хранилища. Вложенный вызов выполняется
// в рамках внешней транзакции.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &Store{mu: s.mu, data: s.data, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

// lock захватывает мьютекс вне транзакции.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func cloneProcess(p *model.FileProcess) *model.FileProcess {
	c := *p
	return &c
}

func cloneRequest(r *model.FileRequest) *model.FileRequest {
	c := *r
	if r.Artifact != nil {
		a := *r.Artifact
		c.Artifact = &a
	}
	return &c
}

// --- FileProcessRepository ---

type processRepo struct{ s *Store }

func (r processRepo) Create(_ context.Context, p *model.FileProcess) error {
	defer r.s.lock()()
	if _, ok := r.s.data.processes[p.ID]; ok {
		return fmt.Errorf("%w: процесс %s уже существует", repository.ErrConflict, p.ID)
	}
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	p.TotalRows, p.ProcessedRows, p.AvailableRows = 0, 0, 0
	r.s.data.processes[p.ID] = cloneProcess(p)
	return nil
}

func (r processRepo) GetByID(_ context.Context, id string) (*model.FileProcess, error) {
	defer r.s.lock()()
	p, ok := r.s.data.processes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneProcess(p), nil
}

// GetForUpdate — блокировка обеспечивается мьютексом транзакции.
func (r processRepo) GetForUpdate(ctx context.Context, id string) (*model.FileProcess, error) {
	return r.GetByID(ctx, id)
}

func matchProcess(p *model.FileProcess, f repository.ProcessFilter) bool {
	return (f.ProjectID == nil || p.ProjectID == *f.ProjectID) &&
		(f.Status == nil || p.Status == *f.Status)
}

func (r processRepo) List(_ context.Context, f repository.ProcessFilter, limit, offset int) ([]*model.FileProcess, error) {
	defer r.s.lock()()
	var out []*model.FileProcess
	for _, p := range r.s.data.processes {
		if matchProcess(p, f) {
			out = append(out, cloneProcess(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, limit, offset), nil
}

func (r processRepo) Count(_ context.Context, f repository.ProcessFilter) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, p := range r.s.data.processes {
		if matchProcess(p, f) {
			n++
		}
	}
	return n, nil
}

func (r processRepo) AttachSource(_ context.Context, p *model.FileProcess) error {
	defer r.s.lock()()
	cur, ok := r.s.data.processes[p.ID]
	if !ok || cur.ProcessedRows != 0 {
		return fmt.Errorf("%w: строки процесса %s уже распределяются", repository.ErrConflict, p.ID)
	}
	cur.SourceFileName, cur.StoragePath = p.SourceFileName, p.StoragePath
	cur.SourceSize, cur.SourceChecksum = p.SourceSize, p.SourceChecksum
	cur.HeaderRows, cur.TotalRows, cur.Status = p.HeaderRows, p.TotalRows, p.Status
	cur.RecomputeAvailable()
	cur.UpdatedAt = r.s.now()

	p.ProcessedRows = 0
	p.RecomputeAvailable()
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

// AdvanceProcessed — сравнение и увеличение processed_rows под мьютексом.
func (r processRepo) AdvanceProcessed(_ context.Context, p *model.FileProcess, delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("приращение processed_rows должно быть положительным: %d", delta)
	}
	defer r.s.lock()()
	cur, ok := r.s.data.processes[p.ID]
	if !ok || cur.ProcessedRows != p.ProcessedRows || cur.ProcessedRows+delta > cur.TotalRows ||
		cur.Status == model.ProcessPaused {
		return fmt.Errorf("%w: processed_rows процесса %s изменился", repository.ErrConflict, p.ID)
	}

	cur.ProcessedRows += delta
	cur.RecomputeAvailable()
	if cur.ProcessedRows >= cur.TotalRows {
		cur.Status = model.ProcessCompleted
	} else {
		cur.Status = model.ProcessInProgress
	}
	cur.UpdatedAt = r.s.now()

	p.ProcessedRows, p.AvailableRows, p.Status, p.UpdatedAt = cur.ProcessedRows, cur.AvailableRows, cur.Status, cur.UpdatedAt
	return nil
}

func (r processRepo) UpdateStatus(_ context.Context, id string, status model.ProcessStatus) error {
	defer r.s.lock()()
	cur, ok := r.s.data.processes[id]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Status = status
	cur.UpdatedAt = r.s.now()
	return nil
}

// --- FileRequestRepository ---

type requestRepo struct{ s *Store }

func (r requestRepo) Create(_ context.Context, req *model.FileRequest) error {
	defer r.s.lock()()
	if _, ok := r.s.data.requests[req.ID]; ok {
		return fmt.Errorf("%w: заявка %s уже существует", repository.ErrConflict, req.ID)
	}
	if _, ok := r.s.data.processes[req.FileProcessID]; !ok {
		return fmt.Errorf("%w: процесс %s", repository.ErrNotFound, req.FileProcessID)
	}
	req.CreatedAt = r.s.now()
	req.UpdatedAt = req.CreatedAt
	r.s.data.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r requestRepo) GetByID(_ context.Context, id string) (*model.FileRequest, error) {
	defer r.s.lock()()
	req, ok := r.s.data.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r requestRepo) GetForUpdate(ctx context.Context, id string) (*model.FileRequest, error) {
	return r.GetByID(ctx, id)
}

func matchRequest(req *model.FileRequest, f repository.RequestFilter) bool {
	if f.UserID != nil && req.UserID != *f.UserID {
		return false
	}
	if f.FileProcessID != nil && req.FileProcessID != *f.FileProcessID {
		return false
	}
	if f.Verification != nil && req.VerificationStatus != *f.Verification {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if req.Status == s {
			return true
		}
	}
	return false
}

func (r requestRepo) List(_ context.Context, f repository.RequestFilter, limit, offset int) ([]*model.FileRequest, error) {
	defer r.s.lock()()
	var out []*model.FileRequest
	for _, req := range r.s.data.requests {
		if matchRequest(req, f) {
			out = append(out, cloneRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, limit, offset), nil
}

func (r requestRepo) Count(_ context.Context, f repository.RequestFilter) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, req := range r.s.data.requests {
		if matchRequest(req, f) {
			n++
		}
	}
	return n, nil
}

func (r requestRepo) Assign(_ context.Context, req *model.FileRequest) error {
	defer r.s.lock()()
	cur, ok := r.s.data.requests[req.ID]
	if !ok || cur.Status != model.RequestPending || cur.AssignedCount != 0 {
		return fmt.Errorf("%w: заявка %s уже распределена", repository.ErrConflict, req.ID)
	}
	for _, other := range r.s.data.requests {
		if other.FileProcessID == cur.FileProcessID && other.AssignedCount > 0 && other.StartRow == req.StartRow {
			return fmt.Errorf("%w: строка %d процесса уже выделена", repository.ErrConflict, req.StartRow)
		}
	}

	cur.AssignedCount, cur.StartRow, cur.EndRow = req.AssignedCount, req.StartRow, req.EndRow
	cur.AssignedBy, cur.AssignedAt, cur.DownloadLink = req.AssignedBy, req.AssignedAt, req.DownloadLink
	cur.Status = model.RequestAssigned
	cur.UpdatedAt = r.s.now()

	req.Status, req.UpdatedAt = cur.Status, cur.UpdatedAt
	return nil
}

func (r requestRepo) Update(_ context.Context, req *model.FileRequest, expected model.RequestStatus) error {
	defer r.s.lock()()
	cur, ok := r.s.data.requests[req.ID]
	if !ok || cur.Status != expected {
		return fmt.Errorf("%w: статус заявки %s уже не %s", repository.ErrConflict, req.ID, expected)
	}

	next := cloneRequest(req)
	// Диапазон и распределение неизменны
	next.UserID, next.FileProcessID, next.ProjectID = cur.UserID, cur.FileProcessID, cur.ProjectID
	next.RequestedCount, next.AssignedCount, next.StartRow, next.EndRow = cur.RequestedCount, cur.AssignedCount, cur.StartRow, cur.EndRow
	next.AssignedBy, next.AssignedAt, next.DownloadLink = cur.AssignedBy, cur.AssignedAt, cur.DownloadLink
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = r.s.now()

	r.s.data.requests[req.ID] = next
	req.UpdatedAt = next.UpdatedAt
	return nil
}

// --- DailyCountRepository ---

type countRepo struct{ s *Store }

func (r countRepo) AddDelta(_ context.Context, key model.DailyCountKey, submitted int64, requests int) error {
	defer r.s.lock()()
	key.Date = model.DateOnly(key.Date)
	now := r.s.now()

	dc, ok := r.s.data.counts[key]
	if !ok {
		dc = &model.DailyCount{
			ID: uuid.NewString(), UserID: key.UserID, ProjectID: key.ProjectID,
			CountDate: key.Date, Status: key.Status, CreatedAt: now,
		}
		r.s.data.counts[key] = dc
	}
	dc.SubmittedCount += submitted
	dc.RequestCount += requests
	dc.UpdatedAt = now
	return nil
}

func (r countRepo) List(_ context.Context, f repository.DailyCountFilter) ([]*model.DailyCount, error) {
	defer r.s.lock()()
	var out []*model.DailyCount
	for _, dc := range r.s.data.counts {
		switch {
		case f.UserID != nil && dc.UserID != *f.UserID,
			f.ProjectID != nil && dc.ProjectID != *f.ProjectID,
			f.Status != nil && dc.Status != *f.Status,
			f.From != nil && dc.CountDate.Before(model.DateOnly(*f.From)),
			f.To != nil && dc.CountDate.After(model.DateOnly(*f.To)):
			continue
		}
		c := *dc
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CountDate.Equal(b.CountDate) {
			return a.CountDate.Before(b.CountDate)
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.Status < b.Status
	})
	return out, nil
}

func (r countRepo) DeleteByUser(_ context.Context, userID string, status model.DailyCountStatus) (int64, error) {
	defer r.s.lock()()
	var n int64
	for k, dc := range r.s.data.counts {
		if dc.UserID == userID && dc.Status == status {
			delete(r.s.data.counts, k)
			n++
		}
	}
	return n, nil
}

// LockUser — транзакции memstore уже выполняются последовательно.
func (r countRepo) LockUser(context.Context, string) error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
