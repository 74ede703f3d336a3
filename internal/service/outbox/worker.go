package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
	"github.com/vladislavdragonenkov/erp/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Значения label result у erp_outbox_publish_attempts_total.
const (
	resultSent       = "sent"
	resultRetry      = "retry_error"
	resultFailed     = "failed"
	resultDLQFailed  = "dlq_failed"
	resultDeadLetter = "dead_lettered"
)

// DeadLetter: payload сообщения в DLQ. cmd/dlq-reprocess восстанавливает из него исходное событие.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	Attempts       int             `json:"attempts"`
	DeadLetteredAt time.Time       `json:"dlq_published_at"`
}

type workerConfig struct {
	logger         *log.Entry
	dlq            domain.OutboxPublisher
	metrics        *metrics.OutboxMetrics
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// Option настраивает Worker.
type Option func(*workerConfig)

func WithLogger(logger *log.Entry) Option {
	return func(c *workerConfig) { c.logger = logger }
}

// WithDLQPublisher задаёт publisher, в который уходят сообщения после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *workerConfig) { c.dlq = publisher }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(c *workerConfig) { c.metrics = m }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *workerConfig) { c.pollInterval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(c *workerConfig) { c.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения за цикл.
func WithMaxAttempts(maxAttempts int) Option {
	return func(c *workerConfig) { c.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается до maxRetryDelay.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *workerConfig) { c.retryBaseDelay = delay }
}

// Worker доставляет события заказов и склада из outbox во внешний брокер.
// Доставка at-least-once: сообщение становится sent только после успешного Publish,
// поэтому потребители должны быть идемпотентны по outbox_id.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       workerConfig
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := workerConfig{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
	}
	for _, option := range options {
		option(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "outbox-worker")
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = defaultPollInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = defaultMaxAttempts
	}
	if cfg.retryBaseDelay < 0 {
		cfg.retryBaseDelay = 0
	}

	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox с интервалом pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	for {
		// Полный батч означает, что в outbox есть ещё сообщения: забираем их без ожидания тика.
		for w.ProcessOnce(ctx) == w.cfg.batchSize && ctx.Err() == nil {
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает один батч pending-сообщений и возвращает число отправленных.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent, failed := 0, 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		switch w.deliver(ctx, msg) {
		case resultSent:
			sent++
		case resultFailed:
			failed++
		}
	}

	if len(batch) > 0 {
		w.cfg.logger.WithFields(log.Fields{
			"batch":  len(batch),
			"sent":   sent,
			"failed": failed,
		}).Debug("outbox batch processed")
	}
	return sent
}

// deliver публикует одно сообщение и переводит его в sent или failed.
// Пустой результат означает, что статус не изменился (отмена ctx или ошибка хранилища).
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) string {
	logger := w.cfg.logger.WithFields(messageFields(msg))

	publishErr := w.publishWithRetry(ctx, msg)
	if publishErr == nil {
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox message as sent")
			return ""
		}
		return resultSent
	}
	if ctx.Err() != nil {
		return ""
	}

	logger.WithError(publishErr).Error("outbox publish failed after retries")
	w.cfg.metrics.RecordPublish(resultFailed)

	if err := w.deadLetter(msg, publishErr); err != nil {
		logger.WithError(err).Warn("failed to publish to DLQ")
		w.cfg.metrics.RecordPublish(resultDLQFailed)
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox message as failed")
		return ""
	}
	return resultFailed
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, w.backoff(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = w.publisher.Publish(msg)
		if lastErr == nil {
			w.cfg.metrics.RecordPublish(resultSent)
			return nil
		}
		w.cfg.metrics.RecordPublish(resultRetry)
	}
	return fmt.Errorf("%w: %d attempts: %v", domain.ErrOutboxPublish, w.cfg.maxAttempts, lastErr)
}

// backoff возвращает паузу после retry-й неудачной попытки: base, 2*base, 4*base ... до maxRetryDelay.
func (w *Worker) backoff(retry int) time.Duration {
	delay := w.cfg.retryBaseDelay
	for i := 1; i < retry && delay > 0 && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func (w *Worker) deadLetter(msg domain.OutboxMessage, publishErr error) error {
	if w.cfg.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		PublishError:   publishErr.Error(),
		Attempts:       w.cfg.maxAttempts,
		DeadLetteredAt: w.cfg.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := msg
	dead.Payload = payload
	if err := w.cfg.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	w.cfg.metrics.RecordPublish(resultDeadLetter)
	return nil
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if w.cfg.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.cfg.metrics.SetBacklog(metrics.OutboxBacklog{
		Pending:  stats.PendingCount,
		OldestAt: stats.OldestPendingAt,
	}, w.cfg.now())
}

func messageFields(msg domain.OutboxMessage) log.Fields {
	return log.Fields{
		"outbox_id":      msg.ID,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"event_type":     msg.EventType,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LogPublisher пишет события в лог, когда брокер не настроен.
type LogPublisher struct {
	logger *log.Entry
}

func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish никогда не возвращает ошибку.
func (p *LogPublisher) Publish(msg domain.OutboxMessage) error {
	p.logger.WithFields(messageFields(msg)).Info("domain event")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
