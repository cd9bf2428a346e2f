// Пакет lifecycle — конечный автомат статусов заявки на диапазон строк.
//
// Основной путь: pending → assigned → in_progress → in_review → completed.
// Цикл доработки: in_review → rework → in_review.
// После распределения заявка не возвращается в pending или assigned:
// диапазон строк неизменен, доработка лишь пересдаёт результат.
//
// Автомат не хранит состояния: текущий статус читается из хранилища
// внутри транзакции, пакет только проверяет переход по таблице.
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/wfm-allocator/internal/domain/model"
)

// Trigger — событие, вызывающее переход.
type Trigger string

const (
	// TriggerAllocate — распределение диапазона менеджером
	TriggerAllocate Trigger = "allocate"
	// TriggerStart — первое скачивание среза или явное обновление статуса
	TriggerStart Trigger = "start"
	// TriggerUpload — загрузка архива с результатом
	TriggerUpload Trigger = "upload"
	// TriggerApprove — приёмка результата
	TriggerApprove Trigger = "approve"
	// TriggerReject — отклонение результата
	TriggerReject Trigger = "reject"
)

// validTransitions — таблица допустимых переходов.
// Ключ — текущий статус, значение — целевой статус и событие, которое его вызывает.
var validTransitions = map[model.RequestStatus]map[model.RequestStatus]Trigger{
	model.RequestPending:    {model.RequestAssigned: TriggerAllocate},
	model.RequestAssigned:   {model.RequestInProgress: TriggerStart},
	model.RequestInProgress: {model.RequestInReview: TriggerUpload},
	model.RequestInReview: {
		model.RequestCompleted: TriggerApprove,
		model.RequestRework:    TriggerReject,
	},
	model.RequestRework:    {model.RequestInReview: TriggerUpload},
	model.RequestCompleted: {},
	model.RequestVerified:  {},
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, TRIGGER_MISMATCH)
	From    model.RequestStatus
	To      model.RequestStatus
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Check проверяет, что переход from → to допустим и вызывается событием trigger.
func Check(from, to model.RequestStatus, trigger Trigger) error {
	targets, ok := validTransitions[from]
	if !ok {
		return &TransitionError{
			Code: "INVALID_TRANSITION", From: from, To: to,
			Message: fmt.Sprintf("неизвестный текущий статус: %q", from),
		}
	}

	want, ok := targets[to]
	if !ok {
		return &TransitionError{
			Code: "INVALID_TRANSITION", From: from, To: to,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	if want != trigger {
		return &TransitionError{
			Code: "TRIGGER_MISMATCH", From: from, To: to,
			Message: fmt.Sprintf("переход %s → %s выполняется событием %s, а не %s", from, to, want, trigger),
		}
	}
	return nil
}

// Target возвращает статус, в который переводит событие trigger из статуса from.
func Target(from model.RequestStatus, trigger Trigger) (model.RequestStatus, error) {
	for to, tr := range validTransitions[from] {
		if tr == trigger {
			return to, nil
		}
	}
	return "", &TransitionError{
		Code: "INVALID_TRANSITION", From: from,
		Message: fmt.Sprintf("событие %s недопустимо в статусе %s", trigger, from),
	}
}

// IsAllocated сообщает, выделен ли заявке диапазон строк.
func IsAllocated(s model.RequestStatus) bool {
	return IsValid(s) && s != model.RequestPending
}

// IsTerminal сообщает, является ли статус конечным.
func IsTerminal(s model.RequestStatus) bool {
	return s == model.RequestCompleted || s == model.RequestVerified
}

// IsValid проверяет, является ли статус допустимым.
func IsValid(s model.RequestStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// ParseStatus преобразует строку в RequestStatus.
func ParseStatus(s string) (model.RequestStatus, error) {
	st := model.RequestStatus(s)
	if !IsValid(st) {
		return "", fmt.Errorf("недопустимый статус заявки: %q", s)
	}
	return st, nil
}

// CheckCorrection проверяет административную корректировку статуса.
// Корректировка обходит таблицу переходов, но не может вернуть
// распределённую заявку в pending или assigned и не может назначить
// assigned нераспределённой заявке (это делает только распределение).
func CheckCorrection(from, to model.RequestStatus) error {
	if !IsValid(to) {
		return &TransitionError{
			Code: "INVALID_TRANSITION", From: from, To: to,
			Message: fmt.Sprintf("недопустимый статус заявки: %q", to),
		}
	}
	if from == to {
		return nil
	}
	if to == model.RequestPending || to == model.RequestAssigned {
		return &TransitionError{
			Code: "INVALID_TRANSITION", From: from, To: to,
			Message: fmt.Sprintf("корректировка %s → %s недопустима: диапазон назначается только распределением", from, to),
		}
	}
	if from == model.RequestPending {
		return &TransitionError{
			Code: "INVALID_TRANSITION", From: from, To: to,
			Message: "заявке без диапазона нельзя назначить статус, кроме pending",
		}
	}
	return nil
}
