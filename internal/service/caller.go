package service

import (
	"github.com/bigkaa/wfm-allocator/internal/domain/model"
	"github.com/bigkaa/wfm-allocator/internal/domain/rbac"
)

// Caller — аутентифицированный вызывающий.
// Заполняется из JWT-claims на уровне HTTP.
type Caller struct {
	// UserID — sub из JWT
	UserID string
	// Username — preferred_username, используется в именах файлов
	Username string
	// Role — эффективная роль (worker, manager, admin)
	Role string
}

// IsManager сообщает, имеет ли вызывающий роль manager или выше.
func (c Caller) IsManager() bool {
	return rbac.AtLeast(c.Role, rbac.RoleManager)
}

// IsAdmin сообщает, является ли вызывающий администратором.
func (c Caller) IsAdmin() bool {
	return rbac.AtLeast(c.Role, rbac.RoleAdmin)
}

// CanAccess — доступ к заявке: владелец, менеджер или администратор.
func (c Caller) CanAccess(req *model.FileRequest) bool {
	return c.IsManager() || req.IsOwnedBy(c.UserID)
}

// CanActFor — действие от имени пользователя userID.
func (c Caller) CanActFor(userID string) bool {
	return c.IsManager() || (c.UserID != "" && c.UserID == userID)
}

// displayName — имя для файлов: username, при его отсутствии — sub.
func (c Caller) displayName() string {
	if c.Username != "" {
		return c.Username
	}
	return c.UserID
}
