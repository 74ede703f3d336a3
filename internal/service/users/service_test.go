package users_test

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/service/users"
	"github.com/vladislavdragonenkov/erp/internal/storage/memory"
)

type UserServiceSuite struct {
	suite.Suite
	ctx  context.Context
	now  time.Time
	repo domain.UserRepository
	svc  *users.Service
}

func TestUserServiceSuite(t *testing.T) {
	suite.Run(t, new(UserServiceSuite))
}

func (s *UserServiceSuite) SetupTest() {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	s.ctx = context.Background()
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.repo = memory.NewStore().Users()
	s.svc = users.NewService(s.repo,
		users.WithLogger(log.NewEntry(logger)),
		users.WithBcryptCost(bcrypt.MinCost),
		users.WithClock(func() time.Time { return s.now }),
	)
}

func (s *UserServiceSuite) register(email string, role domain.UserRole) domain.User {
	user, err := s.svc.Register(s.ctx, users.RegisterInput{
		OrganizationID: "org-1",
		Email:          email,
		Password:       "correct-horse",
		FullName:       "Test User",
		Role:           role,
	})
	s.Require().NoError(err)
	return user
}

func (s *UserServiceSuite) TestRegister() {
	user := s.register("Alice@Example.com", "")
	s.Equal("alice@example.com", user.Email)
	s.Equal(domain.RoleViewer, user.Role)
	s.NotEqual("correct-horse", user.PasswordHash)

	_, err := s.svc.Register(s.ctx, users.RegisterInput{OrganizationID: "org-1", Email: "alice@example.com", Password: "another-pass"})
	s.ErrorIs(err, domain.ErrDuplicateEmail)

	_, err = s.svc.Register(s.ctx, users.RegisterInput{OrganizationID: "org-1", Email: "bob@example.com", Password: "short"})
	s.ErrorIs(err, domain.ErrWeakPassword)
}

func (s *UserServiceSuite) TestAuthenticate() {
	s.register("alice@example.com", domain.RoleOperator)

	user, err := s.svc.Authenticate(s.ctx, "ALICE@example.com", "correct-horse")
	s.Require().NoError(err)
	s.NotNil(user.LastLoginAt)

	_, err = s.svc.Authenticate(s.ctx, "alice@example.com", "wrong")
	s.ErrorIs(err, domain.ErrInvalidCredentials)

	_, err = s.svc.Authenticate(s.ctx, "nobody@example.com", "whatever")
	s.ErrorIs(err, domain.ErrInvalidCredentials)
}

func (s *UserServiceSuite) TestLockoutAfterRepeatedFailures() {
	s.register("alice@example.com", domain.RoleOperator)

	for i := 0; i < domain.MaxFailedLogins; i++ {
		_, err := s.svc.Authenticate(s.ctx, "alice@example.com", "wrong")
		s.ErrorIs(err, domain.ErrInvalidCredentials)
	}

	_, err := s.svc.Authenticate(s.ctx, "alice@example.com", "correct-horse")
	s.ErrorIs(err, domain.ErrAccountLocked)

	s.now = s.now.Add(domain.LockoutDuration + time.Second)
	_, err = s.svc.Authenticate(s.ctx, "alice@example.com", "correct-horse")
	s.NoError(err)
}

func (s *UserServiceSuite) TestChangeRoleRequiresManageUsers() {
	admin := s.register("admin@example.com", domain.RoleAdmin)
	manager := s.register("manager@example.com", domain.RoleManager)
	viewer := s.register("viewer@example.com", domain.RoleViewer)

	_, err := s.svc.ChangeRole(s.ctx, manager, viewer.ID, domain.RoleOperator)
	s.ErrorIs(err, domain.ErrPermissionDenied)

	updated, err := s.svc.ChangeRole(s.ctx, admin, viewer.ID, domain.RoleOperator)
	s.Require().NoError(err)
	s.Equal(domain.RoleOperator, updated.Role)

	_, err = s.svc.ChangeRole(s.ctx, admin, viewer.ID, "superuser")
	s.ErrorIs(err, domain.ErrInvalidRole)
}

func (s *UserServiceSuite) TestDeactivate() {
	admin := s.register("admin@example.com", domain.RoleAdmin)
	viewer := s.register("viewer@example.com", domain.RoleViewer)

	_, err := s.svc.Deactivate(s.ctx, admin, admin.ID)
	s.ErrorIs(err, domain.ErrValidation)

	updated, err := s.svc.Deactivate(s.ctx, admin, viewer.ID)
	s.Require().NoError(err)
	s.False(updated.IsActive)

	_, err = s.svc.Authenticate(s.ctx, "viewer@example.com", "correct-horse")
	s.ErrorIs(err, domain.ErrAccountInactive)
}

func (s *UserServiceSuite) TestTenantIsolation() {
	user := s.register("alice@example.com", domain.RoleViewer)
	foreignAdmin, err := s.svc.Register(s.ctx, users.RegisterInput{
		OrganizationID: "org-2", Email: "root@other.com", Password: "correct-horse", Role: domain.RoleAdmin,
	})
	s.Require().NoError(err)

	_, err = s.svc.Get(s.ctx, "org-2", user.ID)
	s.ErrorIs(err, domain.ErrUserNotFound)

	_, err = s.svc.ChangeRole(s.ctx, foreignAdmin, user.ID, domain.RoleAdmin)
	s.ErrorIs(err, domain.ErrUserNotFound)

	list, err := s.svc.List(s.ctx, "org-1", 0, 0)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *UserServiceSuite) TestEnsureAdminIsIdempotent() {
	first, err := s.svc.EnsureAdmin(s.ctx, "org-1", "root@example.com", "bootstrap-pass")
	s.Require().NoError(err)
	s.Equal(domain.RoleAdmin, first.Role)

	second, err := s.svc.EnsureAdmin(s.ctx, "org-1", "root@example.com", "bootstrap-pass")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
}
