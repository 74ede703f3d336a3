// Package txn выполняет сервисные операции в транзакции с повтором при конфликтах.
package txn

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/metrics"
	"github.com/vladislavdragonenkov/erp/internal/tracing"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// Runner оборачивает Transactor: на каждую попытку своя транзакция,
// повторяются только конфликты версий и сериализации.
type Runner struct {
	tx      domain.Transactor
	config  RetryConfig
	metrics *metrics.DomainMetrics
	logger  *log.Entry
}

// NewRunner создаёт Runner. metrics может быть nil.
func NewRunner(tx domain.Transactor, config RetryConfig, m *metrics.DomainMetrics, logger *log.Entry) *Runner {
	if logger == nil {
		logger = log.WithField("component", "txn-runner")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Runner{tx: tx, config: config, metrics: m, logger: logger}
}

// Run выполняет fn в транзакции. Бизнес-ошибки возвращаются сразу, без повторов.
func (r *Runner) Run(ctx context.Context, operation string, fn func(ctx context.Context, uow domain.UnitOfWork) error) (err error) {
	ctx, span := tracing.Tracer("erp/txn").Start(ctx, operation)
	started := time.Now()
	defer func() {
		r.metrics.RecordOperationDuration(operation, err, time.Since(started))
		tracing.End(span, err)
	}()

	delay := r.config.InitialDelay
	for attempt := 1; ; attempt++ {
		err = r.tx.WithinTx(ctx, fn)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt >= r.config.MaxAttempts {
			if domain.IsVersionConflict(err) {
				r.logger.WithFields(log.Fields{
					"operation":    operation,
					"max_attempts": r.config.MaxAttempts,
				}).WithError(err).Warn("operation failed after all retry attempts")
			}
			return err
		}

		r.metrics.RecordTxConflict(operation)
		r.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).Debug("transaction conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}
}
