package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRole: роль пользователя внутри организации.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleManager  UserRole = "manager"
	RoleOperator UserRole = "operator"
	RoleViewer   UserRole = "viewer"
)

// Permission: отдельное право, проверяемое HTTP-слоем и сервисами.
type Permission string

const (
	PermRead         Permission = "read"
	PermWrite        Permission = "write"
	PermDelete       Permission = "delete"
	PermManageUsers  Permission = "manage_users"
	PermManageTeam   Permission = "manage_team"
	PermManageSystem Permission = "manage_system"
)

var rolePermissions = map[UserRole]map[Permission]struct{}{
	RoleAdmin:    permissionSet(PermRead, PermWrite, PermDelete, PermManageUsers, PermManageSystem),
	RoleManager:  permissionSet(PermRead, PermWrite, PermDelete, PermManageTeam),
	RoleOperator: permissionSet(PermRead, PermWrite),
	RoleViewer:   permissionSet(PermRead),
}

func permissionSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// ParseRole разбирает роль из строки.
func ParseRole(s string) (UserRole, error) {
	role := UserRole(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rolePermissions[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return role, nil
}

// HasPermission проверяет право роли по таблице.
func (r UserRole) HasPermission(p Permission) bool {
	_, ok := rolePermissions[r][p]
	return ok
}

const (
	// MaxFailedLogins: число неудачных входов подряд до блокировки.
	MaxFailedLogins = 5
	// LockoutDuration: длительность блокировки после MaxFailedLogins.
	LockoutDuration = 15 * time.Minute
)

// User: учётная запись пользователя организации.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	FullName       string
	PasswordHash   string
	Role           UserRole
	IsActive       bool
	FailedLogins   int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser создаёт активного пользователя; пароль должен быть уже захеширован.
func NewUser(orgID, email, fullName, passwordHash string, role UserRole, now time.Time) (User, error) {
	if strings.TrimSpace(orgID) == "" {
		return User{}, ErrOrganizationRequired
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	if _, ok := rolePermissions[role]; !ok {
		return User{}, ErrInvalidRole
	}
	return User{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Email:          normalized,
		FullName:       strings.TrimSpace(fullName),
		PasswordHash:   passwordHash,
		Role:           role,
		IsActive:       true,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Can сообщает, есть ли у пользователя право. Неактивные пользователи прав не имеют.
func (u *User) Can(p Permission) bool {
	return u.IsActive && u.Role.HasPermission(p)
}

// IsLocked сообщает, действует ли блокировка входа на момент now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// RecordFailedLogin увеличивает счётчик неудачных входов и блокирует учётную запись при превышении лимита.
func (u *User) RecordFailedLogin(now time.Time) {
	u.FailedLogins++
	if u.FailedLogins >= MaxFailedLogins {
		u.LockedUntil = timePtr(now.Add(LockoutDuration))
		u.FailedLogins = 0
	}
	u.UpdatedAt = now
}

// RecordSuccessfulLogin сбрасывает счётчик и блокировку.
func (u *User) RecordSuccessfulLogin(now time.Time) {
	u.FailedLogins = 0
	u.LockedUntil = nil
	u.LastLoginAt = timePtr(now)
	u.UpdatedAt = now
}

// ChangeRole меняет роль; actor должен иметь право manage_users.
func (u *User) ChangeRole(actor *User, role UserRole, now time.Time) error {
	if actor == nil || !actor.Can(PermManageUsers) {
		return ErrPermissionDenied
	}
	if _, ok := rolePermissions[role]; !ok {
		return ErrInvalidRole
	}
	u.Role = role
	u.UpdatedAt = now
	return nil
}

// Deactivate отключает учётную запись.
func (u *User) Deactivate(now time.Time) {
	u.IsActive = false
	u.UpdatedAt = now
}
