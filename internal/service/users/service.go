// Package users отвечает за учётные записи: регистрацию, вход и управление ролями.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/metrics"
)

const (
	minPasswordLength = 8
	// bcrypt не принимает пароли длиннее 72 байт.
	maxPasswordLength = 72
	saveAttempts      = 3
	defaultListLimit  = 50
	maxListLimit      = 100
)

// RegisterInput: данные новой учётной записи.
type RegisterInput struct {
	OrganizationID string
	Email          string
	Password       string
	FullName       string
	Role           domain.UserRole
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics подключает метрики попыток входа.
func WithMetrics(m *metrics.DomainMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost задаёт стоимость хеширования; в тестах используется bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// Service управляет пользователями.
type Service struct {
	repo    domain.UserRepository
	metrics *metrics.DomainMetrics
	logger  *log.Entry
	now     func() time.Time
	cost    int
}

// NewService создаёт сервис пользователей.
func NewService(repo domain.UserRepository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
		cost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "user-service")
	}
	return s
}

// Register создаёт пользователя с захешированным паролем.
func (s *Service) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	if len(in.Password) < minPasswordLength || len(in.Password) > maxPasswordLength {
		return domain.User{}, domain.ErrWeakPassword
	}
	if in.Role == "" {
		in.Role = domain.RoleViewer
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := domain.NewUser(in.OrganizationID, in.Email, in.FullName, string(hash), in.Role, s.now())
	if err != nil {
		return domain.User{}, err
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return domain.User{}, err
	}
	s.logger.WithFields(log.Fields{
		"user_id":      user.ID,
		"organization": user.OrganizationID,
		"role":         user.Role,
	}).Info("user registered")
	return user, nil
}

// Authenticate проверяет пароль с учётом блокировки после серии неудачных попыток.
func (s *Service) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		s.metrics.RecordAuthAttempt("invalid_credentials")
		return domain.User{}, domain.ErrInvalidCredentials
	}
	user, err := s.repo.GetByEmail(ctx, normalized)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.metrics.RecordAuthAttempt("invalid_credentials")
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}

	now := s.now()
	if !user.IsActive {
		s.metrics.RecordAuthAttempt("inactive")
		return domain.User{}, domain.ErrAccountInactive
	}
	if user.IsLocked(now) {
		s.metrics.RecordAuthAttempt("locked")
		return domain.User{}, domain.ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		updated, err := s.update(ctx, user.ID, func(u *domain.User) error {
			u.RecordFailedLogin(now)
			return nil
		})
		if err != nil {
			return domain.User{}, err
		}
		s.metrics.RecordAuthAttempt("invalid_credentials")
		if updated.IsLocked(now) {
			s.logger.WithField("user_id", user.ID).Warn("account locked after repeated failed logins")
		}
		return domain.User{}, domain.ErrInvalidCredentials
	}

	updated, err := s.update(ctx, user.ID, func(u *domain.User) error {
		u.RecordSuccessfulLogin(now)
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	s.metrics.RecordAuthAttempt("success")
	return updated, nil
}

// Get возвращает пользователя организации.
func (s *Service) Get(ctx context.Context, organizationID, id string) (domain.User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if user.OrganizationID != organizationID {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

// List возвращает пользователей организации, отсортированных по email.
func (s *Service) List(ctx context.Context, organizationID string, offset, limit int) ([]domain.User, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, organizationID, offset, limit)
}

// ChangeRole меняет роль пользователя той же организации.
func (s *Service) ChangeRole(ctx context.Context, actor domain.User, id string, role domain.UserRole) (domain.User, error) {
	return s.manage(ctx, actor, id, func(u *domain.User) error {
		return u.ChangeRole(&actor, role, s.now())
	})
}

// Deactivate отключает учётную запись; отключить самого себя нельзя.
func (s *Service) Deactivate(ctx context.Context, actor domain.User, id string) (domain.User, error) {
	if actor.ID == id {
		return domain.User{}, fmt.Errorf("%w: cannot deactivate own account", domain.ErrValidation)
	}
	return s.manage(ctx, actor, id, func(u *domain.User) error {
		u.Deactivate(s.now())
		return nil
	})
}

// EnsureAdmin создаёт администратора, если пользователя с таким email ещё нет.
func (s *Service) EnsureAdmin(ctx context.Context, organizationID, email, password string) (domain.User, error) {
	normalized, err := domain.NormalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	existing, err := s.repo.GetByEmail(ctx, normalized)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}
	return s.Register(ctx, RegisterInput{
		OrganizationID: organizationID,
		Email:          normalized,
		Password:       password,
		FullName:       "Administrator",
		Role:           domain.RoleAdmin,
	})
}

func (s *Service) manage(ctx context.Context, actor domain.User, id string, apply func(*domain.User) error) (domain.User, error) {
	if !actor.Can(domain.PermManageUsers) {
		return domain.User{}, domain.ErrPermissionDenied
	}
	updated, err := s.update(ctx, id, func(u *domain.User) error {
		if u.OrganizationID != actor.OrganizationID {
			return domain.ErrUserNotFound
		}
		return apply(u)
	})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.WithFields(log.Fields{
		"user_id":  updated.ID,
		"actor_id": actor.ID,
		"role":     updated.Role,
		"active":   updated.IsActive,
	}).Info("user updated")
	return updated, nil
}

// update перечитывает пользователя и повторяет изменение при конфликте версий.
func (s *Service) update(ctx context.Context, id string, apply func(*domain.User) error) (domain.User, error) {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		user, err := s.repo.Get(ctx, id)
		if err != nil {
			return domain.User{}, err
		}
		if err := apply(&user); err != nil {
			return domain.User{}, err
		}
		err = s.repo.Save(ctx, user)
		if err == nil {
			user.Version++
			return user, nil
		}
		if !domain.IsVersionConflict(err) {
			return domain.User{}, err
		}
		lastErr = err
	}
	return domain.User{}, lastErr
}
