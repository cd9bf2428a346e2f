package model

import "time"

// RequestStatus — статус заявки на диапазон строк.
type RequestStatus string

const (
	// RequestPending — заявка создана, диапазон ещё не выделен
	RequestPending RequestStatus = "pending"
	// RequestAssigned — диапазон выделен, файл ещё не скачивался
	RequestAssigned RequestStatus = "assigned"
	// RequestInProgress — исполнитель скачал свой диапазон
	RequestInProgress RequestStatus = "in_progress"
	// RequestInReview — результат загружен и ждёт проверки
	RequestInReview RequestStatus = "in_review"
	// RequestRework — результат отклонён, ожидается повторная загрузка
	RequestRework RequestStatus = "rework"
	// RequestCompleted — результат принят
	RequestCompleted RequestStatus = "completed"
	// RequestVerified — финальная отметка оператора
	RequestVerified RequestStatus = "verified"
)

// AllRequestStatuses — все статусы заявки в порядке жизненного цикла.
var AllRequestStatuses = []RequestStatus{
	RequestPending, RequestAssigned, RequestInProgress, RequestInReview,
	RequestRework, RequestCompleted, RequestVerified,
}

// VerificationStatus — результат проверки загруженного результата.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = "none"
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// IsValid проверяет допустимость статуса проверки.
func (s VerificationStatus) IsValid() bool {
	switch s {
	case VerificationNone, VerificationPending, VerificationApproved, VerificationRejected:
		return true
	default:
		return false
	}
}

// Artifact — архив с результатом работы по заявке.
// Принадлежит ровно одной заявке, при повторной загрузке заменяется.
type Artifact struct {
	// FileName — оригинальное имя архива
	FileName string
	// StoragePath — ключ архива в хранилище результатов
	StoragePath string
	// Size — размер в байтах
	Size int64
	// Checksum — SHA-256 архива
	Checksum string
	// Entries — количество файлов внутри архива
	Entries int
	// UploadedAt — время загрузки
	UploadedAt time.Time
	// Notes — комментарий исполнителя к загрузке
	Notes *string
}

// FileRequest — заявка исполнителя на непрерывный диапазон строк файлового процесса.
// AssignedCount, StartRow и EndRow задаются один раз при распределении.
type FileRequest struct {
	// ID — UUID заявки
	ID string
	// UserID — исполнитель (sub из JWT)
	UserID string
	// FileProcessID — UUID файлового процесса
	FileProcessID string
	// ProjectID — проект процесса на момент создания заявки
	ProjectID string

	// RequestedCount — сколько строк запросил исполнитель
	RequestedCount int64
	// AssignedCount — сколько строк выделено (0 до распределения)
	AssignedCount int64
	// StartRow — первая строка данных диапазона (1-based, включительно)
	StartRow int64
	// EndRow — последняя строка данных диапазона (включительно)
	EndRow int64

	// Status — статус жизненного цикла
	Status RequestStatus
	// AssignedBy — кто распределил диапазон
	AssignedBy *string
	// AssignedAt — время распределения
	AssignedAt *time.Time
	// DownloadLink — ссылка на скачивание среза
	DownloadLink *string
	// FirstDownloadedAt — время первого скачивания среза
	FirstDownloadedAt *time.Time

	// Artifact — загруженный результат (nil, если ещё не загружался)
	Artifact *Artifact
	// CompletedAt — время первой сдачи результата
	CompletedAt *time.Time

	// VerificationStatus — статус проверки результата
	VerificationStatus VerificationStatus
	// VerifiedBy — кто проверял
	VerifiedBy *string
	// VerifiedAt — время проверки
	VerifiedAt *time.Time
	// VerificationNotes — комментарий проверяющего
	VerificationNotes *string
	// ReworkCount — сколько раз результат отправлялся на доработку
	ReworkCount int

	// Notes — комментарий к заявке
	Notes *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOwnedBy сообщает, принадлежит ли заявка пользователю.
func (r *FileRequest) IsOwnedBy(userID string) bool {
	return userID != "" && r.UserID == userID
}
