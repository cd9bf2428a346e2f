// Пакет repository — слой доступа к данным.
// Основная реализация — PostgreSQL через pgx, чистый SQL без ORM.
// Пакет memstore содержит хранилище в памяти с теми же гарантиями.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности или устаревшее состояние записи.
	ErrConflict = errors.New("конфликт — запись изменена или уже существует")
)

// Store — единая точка доступа к репозиториям.
// InTx выполняет fn в транзакции: все репозитории tx-хранилища работают
// внутри неё, при ошибке fn изменения откатываются.
type Store interface {
	FileProcesses() FileProcessRepository
	FileRequests() FileRequestRepository
	DailyCounts() DailyCountRepository
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner — DBTX, умеющий открывать транзакции.
// *pgxpool.Pool открывает транзакцию, pgx.Tx — точку сохранения.
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgStore — Store поверх PostgreSQL.
type PgStore struct {
	db        TxBeginner
	processes FileProcessRepository
	requests  FileRequestRepository
	counts    DailyCountRepository
}

// NewPgStore создаёт Store поверх пула подключений или транзакции.
func NewPgStore(db TxBeginner) *PgStore {
	return &PgStore{
		db:        db,
		processes: NewFileProcessRepository(db),
		requests:  NewFileRequestRepository(db),
		counts:    NewDailyCountRepository(db),
	}
}

func (s *PgStore) FileProcesses() FileProcessRepository { return s.processes }
func (s *PgStore) FileRequests() FileRequestRepository  { return s.requests }
func (s *PgStore) DailyCounts() DailyCountRepository    { return s.counts }

// InTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(NewPgStore(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// rowScanner — общий интерфейс pgx.Row и pgx.Rows для сканирования.
type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// whereBuilder — динамическое построение WHERE с позиционными параметрами.
type whereBuilder struct {
	conditions []string
	args       []any
}

// add добавляет условие; %d в cond заменяется номером параметра.
func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.conditions) == 0 {
		return ""
	}
	out := "WHERE " + w.conditions[0]
	for _, c := range w.conditions[1:] {
		out += " AND " + c
	}
	return out
}

// page добавляет LIMIT/OFFSET; limit <= 0 — без ограничения.
func (w *whereBuilder) page(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	w.args = append(w.args, limit, offset)
	n := len(w.args)
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", n-1, n)
}
