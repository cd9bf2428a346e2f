// Пакет rbac — роли пользователей движка распределения.
// Роли упорядочены по привилегиям: worker < manager < admin.
// Роль определяется по группам IdP, при нескольких совпадениях берётся максимальная.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleWorker  = "worker"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleWorker:  1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя по группам IdP.
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, adminGroups, managerGroups, workerGroups []string) string {
	adminSet := toSet(adminGroups)
	managerSet := toSet(managerGroups)
	workerSet := toSet(workerGroups)

	var roles []string
	for _, g := range groups {
		switch {
		case adminSet[g]:
			roles = append(roles, RoleAdmin)
		case managerSet[g]:
			roles = append(roles, RoleManager)
		case workerSet[g]:
			roles = append(roles, RoleWorker)
		}
	}

	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// AtLeast проверяет, что роль не ниже min.
// Неизвестная роль не проходит ни одну проверку.
func AtLeast(role, min string) bool {
	w, ok := roleWeight[role]
	return ok && w >= roleWeight[min]
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
