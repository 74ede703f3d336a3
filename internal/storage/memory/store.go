package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

// state: все данные in-memory хранилища.
type state struct {
	orders      map[string]domain.Order
	inventory   map[string]domain.InventoryItem
	movements   []domain.StockMovement
	users       map[string]domain.User
	outbox      map[string]*outboxRecord
	outboxOrder []string
}

// Store: in-memory хранилище для локальной разработки и тестов.
// Один мьютекс сериализует все транзакции: пока WithinTx выполняется, остальные
// операции ждут, а при ошибке изменения откатываются журналом отмены.
type Store struct {
	mu sync.Mutex
	st *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{st: &state{
		orders:    make(map[string]domain.Order),
		inventory: make(map[string]domain.InventoryItem),
		users:     make(map[string]domain.User),
		outbox:    make(map[string]*outboxRecord),
	}}
}

// txn накапливает операции отмены для отката.
type txn struct {
	undo []func()
}

func (t *txn) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// WithinTx выполняет fn эксклюзивно; изменения сохраняются, только если fn вернула nil и ctx не отменён.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{}
	err := fn(ctx, unitOfWork{s: s, tx: tx})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// run выполняет fn либо в рамках текущей транзакции, либо в собственной короткой.
func (s *Store) run(ctx context.Context, tx *txn, fn func(st *state, tx *txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx != nil {
		return fn(s.st, tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	own := &txn{}
	if err := fn(s.st, own); err != nil {
		own.rollback()
		return err
	}
	return nil
}

// Orders возвращает репозиторий заказов вне транзакции.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{s: s} }

// Inventory возвращает репозиторий складских позиций вне транзакции.
func (s *Store) Inventory() domain.InventoryRepository { return &inventoryRepository{s: s} }

// Movements возвращает журнал движений вне транзакции.
func (s *Store) Movements() domain.StockMovementRepository { return &movementRepository{s: s} }

// Outbox возвращает outbox вне транзакции.
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{s: s} }

// Users возвращает репозиторий пользователей.
func (s *Store) Users() domain.UserRepository { return &userRepository{s: s} }

type unitOfWork struct {
	s  *Store
	tx *txn
}

func (u unitOfWork) Orders() domain.OrderRepository { return &orderRepository{s: u.s, tx: u.tx} }
func (u unitOfWork) Inventory() domain.InventoryRepository { return &inventoryRepository{s: u.s, tx: u.tx} }
func (u unitOfWork) Movements() domain.StockMovementRepository {
	return &movementRepository{s: u.s, tx: u.tx}
}
func (u unitOfWork) Outbox() domain.OutboxRepository { return &OutboxRepository{s: u.s, tx: u.tx} }

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ domain.Transactor = (*Store)(nil)
