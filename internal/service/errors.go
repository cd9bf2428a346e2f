// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — вызывающий не владелец заявки и не менеджер.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrNoCapacity — в файловом процессе не осталось свободных строк.
	ErrNoCapacity = errors.New("нет свободных строк")
	// ErrAlreadyProcessed — заявка или процесс не в ожидаемом состоянии.
	ErrAlreadyProcessed = errors.New("уже обработано")
	// ErrNotAllocated — заявке ещё не выделен диапазон строк.
	ErrNotAllocated = errors.New("диапазон строк ещё не выделен")
	// ErrProcessPaused — выдача строк процесса приостановлена.
	ErrProcessPaused = errors.New("процесс приостановлен")
	// ErrUnsupportedFormat — неподдерживаемый формат файла.
	ErrUnsupportedFormat = errors.New("неподдерживаемый формат файла")
	// ErrFileTooLarge — превышен максимальный размер файла.
	ErrFileTooLarge = errors.New("файл слишком большой")
	// ErrSourceNotFound — исходный файл процесса отсутствует в хранилище.
	ErrSourceNotFound = errors.New("исходный файл не найден")
	// ErrFileNotFound — архив с результатом отсутствует.
	ErrFileNotFound = errors.New("файл результата не найден")
)
