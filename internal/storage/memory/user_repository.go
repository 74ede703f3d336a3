package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

type userRepository struct {
	s *Store
}

func (r *userRepository) Create(ctx context.Context, user domain.User) error {
	return r.s.run(ctx, nil, func(st *state, tx *txn) error {
		for _, existing := range st.users {
			if existing.Email == user.Email {
				return domain.ErrDuplicateEmail
			}
		}
		st.users[user.ID] = user
		return nil
	})
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	var out domain.User
	err := r.s.run(ctx, nil, func(st *state, _ *txn) error {
		user, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		out = user
		return nil
	})
	return out, err
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var out domain.User
	err := r.s.run(ctx, nil, func(st *state, _ *txn) error {
		for _, user := range st.users {
			if user.Email == email {
				out = user
				return nil
			}
		}
		return domain.ErrUserNotFound
	})
	return out, err
}

func (r *userRepository) List(ctx context.Context, organizationID string, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := r.s.run(ctx, nil, func(st *state, _ *txn) error {
		result := make([]domain.User, 0)
		for _, user := range st.users {
			if user.OrganizationID == organizationID {
				result = append(result, user)
			}
		}
		sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
		out = paginate(result, offset, limit)
		return nil
	})
	return out, err
}

// Save перезаписывает пользователя с проверкой версии.
func (r *userRepository) Save(ctx context.Context, user domain.User) error {
	return r.s.run(ctx, nil, func(st *state, _ *txn) error {
		current, ok := st.users[user.ID]
		if !ok {
			return domain.ErrUserNotFound
		}
		if current.Version != user.Version {
			return domain.ErrVersionConflict
		}
		user.Version++
		st.users[user.ID] = user
		return nil
	})
}

var _ domain.UserRepository = (*userRepository)(nil)
