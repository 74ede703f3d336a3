package memory

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	updatedAt  time.Time
}

// OutboxRepository: in-memory transactional outbox: сообщения пишутся в той же транзакции, что и агрегаты.
type OutboxRepository struct {
	s  *Store
	tx *txn
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	err := r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		st.outbox[msg.ID] = &outboxRecord{msg: msg, status: outboxStatusPending, updatedAt: now}
		n := len(st.outboxOrder)
		st.outboxOrder = append(st.outboxOrder, msg.ID)
		tx.onRollback(func() {
			delete(st.outbox, msg.ID)
			st.outboxOrder = st.outboxOrder[:n]
		})
		return nil
	})
	return msg, err
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке записи.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.OutboxMessage
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		out = make([]domain.OutboxMessage, 0, min(limit, len(st.outboxOrder)))
		for _, id := range st.outboxOrder {
			rec := st.outbox[id]
			if rec == nil || rec.status != outboxStatusPending {
				continue
			}
			out = append(out, rec.msg)
			if len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.s.run(ctx, r.tx, func(st *state, _ *txn) error {
		for _, rec := range st.outbox {
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.msg.CreatedAt
			}
		}
		return nil
	})
	return stats, err
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusFailed)
}

func (r *OutboxRepository) mark(ctx context.Context, id, status string) error {
	return r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		record, ok := st.outbox[id]
		if !ok {
			return domain.ErrOutboxPublish
		}
		prev := *record
		record.status = status
		record.attemptCnt++
		record.updatedAt = time.Now().UTC()
		tx.onRollback(func() { *record = prev })
		return nil
	})
}

// DeleteSent удаляет отправленные сообщения старше before, не больше limit за вызов.
func (r *OutboxRepository) DeleteSent(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	deleted := 0
	err := r.s.run(ctx, r.tx, func(st *state, tx *txn) error {
		prevOrder := st.outboxOrder
		removed := make(map[string]*outboxRecord)
		kept := make([]string, 0, len(st.outboxOrder))
		for _, id := range st.outboxOrder {
			rec := st.outbox[id]
			if rec != nil && deleted < limit && rec.status == outboxStatusSent && rec.updatedAt.Before(before) {
				removed[id] = rec
				delete(st.outbox, id)
				deleted++
				continue
			}
			kept = append(kept, id)
		}
		st.outboxOrder = kept
		tx.onRollback(func() {
			for id, rec := range removed {
				st.outbox[id] = rec
			}
			st.outboxOrder = prevOrder
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *OutboxRepository) AllPending(ctx context.Context) []domain.OutboxMessage {
	msgs, _ := r.PullPending(ctx, math.MaxInt32)
	return msgs
}

var (
	_ domain.OutboxRepository = (*OutboxRepository)(nil)
	_ domain.OutboxPurger     = (*OutboxRepository)(nil)
)
