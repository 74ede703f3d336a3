// Package postgres: хранилище ERP поверх PostgreSQL (pgx через database/sql).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

// Коды ошибок PostgreSQL, которые сервис различает.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *log.Entry
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, logger: log.WithField("component", "postgres")}, nil
}

// WithLogger задаёт logger для миграций и диагностики.
func (s *Store) WithLogger(logger *log.Entry) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx выполняет fn в serializable-транзакции. Ошибки сериализации и дедлоки
// возвращаются как domain.ErrVersionConflict, чтобы вызывающий мог повторить операцию.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapError(err))
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	if err = fn(ctx, unitOfWork{c: conn{tx: tx}}); err != nil {
		return mapError(err)
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

// Orders возвращает репозиторий заказов вне транзакции.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{c: conn{db: s.db}} }

// Inventory возвращает репозиторий складских позиций вне транзакции.
func (s *Store) Inventory() domain.InventoryRepository { return &inventoryRepository{c: conn{db: s.db}} }

// Movements возвращает журнал движений вне транзакции.
func (s *Store) Movements() domain.StockMovementRepository { return &movementRepository{c: conn{db: s.db}} }

// Outbox возвращает outbox вне транзакции.
func (s *Store) Outbox() domain.OutboxRepository { return &outboxRepository{c: conn{db: s.db}} }

// OutboxPurger возвращает очистку отправленных outbox-сообщений.
func (s *Store) OutboxPurger() domain.OutboxPurger { return &outboxRepository{c: conn{db: s.db}} }

// Users возвращает репозиторий пользователей.
func (s *Store) Users() domain.UserRepository { return &userRepository{c: conn{db: s.db}} }

type unitOfWork struct {
	c conn
}

func (u unitOfWork) Orders() domain.OrderRepository            { return &orderRepository{c: u.c} }
func (u unitOfWork) Inventory() domain.InventoryRepository     { return &inventoryRepository{c: u.c} }
func (u unitOfWork) Movements() domain.StockMovementRepository { return &movementRepository{c: u.c} }
func (u unitOfWork) Outbox() domain.OutboxRepository           { return &outboxRepository{c: u.c} }

// querier: общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn: либо пул, либо открытая транзакция.
type conn struct {
	db *sql.DB
	tx *sql.Tx
}

func (c conn) q() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// atomic выполняет несколько запросов атомарно: внутри транзакции напрямую, иначе в короткой собственной.
func (c conn) atomic(ctx context.Context, fn func(q querier) error) (err error) {
	if c.tx != nil {
		return fn(c.tx)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}

func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// mapError превращает ошибки конкурентного доступа в domain.ErrVersionConflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	code, constraint := pgCode(err)
	switch code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %v", domain.ErrVersionConflict, err)
	case pgCheckViolation:
		if strings.HasPrefix(constraint, "inventory_items_") {
			return fmt.Errorf("%w: %v", domain.ErrNegativeStock, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == pgUniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var (
	_ domain.Transactor = (*Store)(nil)
	_ domain.UnitOfWork = unitOfWork{}
)
