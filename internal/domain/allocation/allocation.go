// Пакет allocation — вычисление следующего диапазона строк файлового процесса.
//
// Диапазон всегда начинается сразу за верхней границей processed_rows
// и ограничивается оставшейся ёмкостью. Пакет не хранит состояния:
// сериализация конкурентных распределений — задача вызывающего кода
// (транзакция с блокировкой строки процесса).
package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCount — запрошено неположительное количество строк.
	ErrInvalidCount = errors.New("количество строк должно быть положительным")
	// ErrNoCapacity — в файловом процессе не осталось свободных строк.
	ErrNoCapacity = errors.New("нет свободных строк")
)

// Range — выделенный диапазон строк данных (1-based, включительно).
type Range struct {
	AssignedCount int64
	StartRow      int64
	EndRow        int64
}

// String возвращает диапазон в виде "start-end".
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.StartRow, r.EndRow)
}

// Contains проверяет, входит ли строка данных в диапазон.
func (r Range) Contains(row int64) bool {
	return r.AssignedCount > 0 && row >= r.StartRow && row <= r.EndRow
}

// Overlaps проверяет пересечение двух диапазонов.
func (r Range) Overlaps(o Range) bool {
	if r.AssignedCount <= 0 || o.AssignedCount <= 0 {
		return false
	}
	return r.StartRow <= o.EndRow && o.StartRow <= r.EndRow
}

// Remaining возвращает max(0, total - processed).
func Remaining(total, processed int64) int64 {
	if rem := total - processed; rem > 0 {
		return rem
	}
	return 0
}

// Next вычисляет следующий диапазон для запроса requested строк.
//
// assigned = min(requested, remaining); start = processed+1; end = processed+assigned.
// Пустой диапазон никогда не возвращается: при отсутствии ёмкости — ErrNoCapacity.
func Next(total, processed, requested int64) (Range, error) {
	if requested <= 0 {
		return Range{}, fmt.Errorf("%w: %d", ErrInvalidCount, requested)
	}

	assigned := min(requested, Remaining(total, processed))
	if assigned <= 0 {
		return Range{}, fmt.Errorf("%w: всего %d, распределено %d", ErrNoCapacity, total, processed)
	}

	return Range{
		AssignedCount: assigned,
		StartRow:      processed + 1,
		EndRow:        processed + assigned,
	}, nil
}
