package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"agencyflow/db"
	"agencyflow/metrics"
)

// Notifier delivers one message. Returning an error schedules a retry.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Stats summarises one drain pass.
type Stats struct {
	Sent   int
	Failed int
	Dead   int
}

type Relay struct {
	pool        db.TxBeginner
	notifier    Notifier
	log         *zap.Logger
	batchSize   int
	maxAttempts int
	sendTimeout time.Duration
	cron        *cron.Cron
}

func NewRelay(pool db.TxBeginner, notifier Notifier, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		pool:        pool,
		notifier:    notifier,
		log:         log.Named("outbox"),
		batchSize:   25,
		maxAttempts: 5,
		sendTimeout: 15 * time.Second,
	}
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Relay) WithMaxAttempts(n int) *Relay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// Start schedules DrainOnce on the given cron spec ("@every 10s"). Overlapping
// runs are skipped.
func (r *Relay) Start(schedule string) error {
	logger := cronLogger{r.log.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		stats, err := r.DrainOnce(context.Background())
		if err != nil {
			r.log.Error("outbox drain failed", zap.Error(err))
			return
		}
		if stats.Sent+stats.Failed+stats.Dead > 0 {
			r.log.Info("outbox drained", zap.Int("sent", stats.Sent), zap.Int("failed", stats.Failed), zap.Int("dead", stats.Dead))
		}
	}); err != nil {
		return fmt.Errorf("outbox: schedule relay: %w", err)
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop waits for a running drain to finish or ctx to expire.
func (r *Relay) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// DrainOnce claims up to batchSize pending messages with SKIP LOCKED so
// several relays can run side by side, and settles each one.
func (r *Relay) DrainOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1
`, r.batchSize)
	if err != nil {
		return stats, fmt.Errorf("outbox: claim batch: %w", err)
	}
	var batch []Message
	for rows.Next() {
		var (
			msg  Message
			body []byte
		)
		if err := rows.Scan(&msg.ID, &msg.Topic, &body, &msg.Attempts); err != nil {
			rows.Close()
			return stats, fmt.Errorf("outbox: scan message: %w", err)
		}
		if err := json.Unmarshal(body, &msg.Payload); err != nil {
			msg.Payload = map[string]any{}
		}
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("outbox: iterate batch: %w", err)
	}

	for _, msg := range batch {
		sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		sendErr := r.notifier.Notify(sendCtx, msg)
		cancel()

		if sendErr == nil {
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1, processed_at = now(), last_error = NULL WHERE id = $1`, msg.ID); err != nil {
				return stats, fmt.Errorf("outbox: mark processed: %w", err)
			}
			stats.Sent++
			metrics.OutboxDispatched.WithLabelValues(msg.Topic, "sent").Inc()
			continue
		}

		dead := msg.Attempts+1 >= r.maxAttempts
		status := "pending"
		if dead {
			status = "dead"
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = $2, attempts = attempts + 1, last_error = $3 WHERE id = $1`, msg.ID, status, sendErr.Error()); err != nil {
			return stats, fmt.Errorf("outbox: record failure: %w", err)
		}
		if dead {
			stats.Dead++
			metrics.OutboxDispatched.WithLabelValues(msg.Topic, "dead").Inc()
			r.log.Warn("outbox message parked", zap.String("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(sendErr))
		} else {
			stats.Failed++
			metrics.OutboxDispatched.WithLabelValues(msg.Topic, "retry").Inc()
			r.log.Warn("outbox delivery failed", zap.String("id", msg.ID), zap.String("topic", msg.Topic), zap.Int("attempt", msg.Attempts+1), zap.Error(sendErr))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("outbox: commit: %w", err)
	}
	return stats, nil
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
