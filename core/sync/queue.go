package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

// Config defines queue behavior. Only the retry ceiling is a hard contract;
// the backoff shape is an implementation decision.
type Config struct {
	// RetryCeiling is the number of failed delivery attempts after which a
	// mutation is dropped. Dropping is an acknowledged data-loss policy,
	// preferred over blocking the queue forever.
	RetryCeiling int `json:"retry_ceiling"`
	// DrainIntervalSeconds is the periodic drain cadence while online.
	DrainIntervalSeconds int `json:"drain_interval_seconds"`
	// BackoffBaseSeconds and BackoffCapSeconds bound the exponential delay
	// between retries of the same mutation.
	BackoffBaseSeconds int `json:"backoff_base_seconds"`
	BackoffCapSeconds  int `json:"backoff_cap_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 3
	}
	if c.DrainIntervalSeconds <= 0 {
		c.DrainIntervalSeconds = 30
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = 2
	}
	if c.BackoffCapSeconds <= 0 {
		c.BackoffCapSeconds = 60
	}
}

// Submitter delivers one mutation to the server. Implementations return a
// *NetworkError for transient transport failures; any other error is
// permanent.
type Submitter interface {
	Submit(ctx context.Context, m Mutation) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, m Mutation) error

func (f SubmitterFunc) Submit(ctx context.Context, m Mutation) error { return f(ctx, m) }

// Queue is the durable, ordered outbox of a disconnected client. It is the
// sole origin of position updates, status commands and signature submissions
// while connectivity is unavailable.
type Queue struct {
	storage Storage
	submit  Submitter
	bus     eventbus.EventBus
	log     logger.Logger
	cfg     Config

	mu       gosync.Mutex
	seq      uint64
	draining bool

	online chan struct{}
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewQueue creates a Queue over the given storage. The sequence counter
// resumes after the highest persisted mutation so ordering survives restarts.
func NewQueue(storage Storage, submit Submitter, bus eventbus.EventBus, log logger.Logger, cfg Config) (*Queue, error) {
	if storage == nil || submit == nil || log == nil {
		return nil, fmt.Errorf("sync: nil parameter provided to NewQueue")
	}
	cfg.SetDefaults()
	q := &Queue{
		storage: storage,
		submit:  submit,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		online:  make(chan struct{}, 1),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	pend, err := storage.Pending(context.Background())
	if err != nil {
		return nil, err
	}
	for _, m := range pend {
		if m.Seq > q.seq {
			q.seq = m.Seq
		}
	}
	queueDepth.Set(float64(len(pend)))
	return q, nil
}

// SetClock overrides the time source, used by tests.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// SetSleep overrides the backoff sleeper, used by tests.
func (q *Queue) SetSleep(sleep func(ctx context.Context, d time.Duration) error) { q.sleep = sleep }

// Enqueue buffers a mutation. The mutation is persisted before Enqueue
// returns so a crash immediately after cannot lose it.
func (q *Queue) Enqueue(ctx context.Context, typ MutationType, data json.RawMessage) (Mutation, error) {
	q.mu.Lock()
	q.seq++
	m := Mutation{
		ID:        fmt.Sprintf("%s_%d_%s", typ, q.seq, uuid.NewString()[:8]),
		Seq:       q.seq,
		Type:      typ,
		Data:      data,
		Timestamp: q.now(),
	}
	q.mu.Unlock()
	if err := m.Validate(); err != nil {
		return Mutation{}, err
	}
	if err := q.storage.Append(ctx, m); err != nil {
		return Mutation{}, fmt.Errorf("persist mutation: %w", err)
	}
	queueDepth.Inc()
	q.log.Debugf("queued %s mutation %s", m.Type, m.ID)
	return m, nil
}

// Online signals that connectivity was regained. The signal is coalesced.
func (q *Queue) Online() {
	select {
	case q.online <- struct{}{}:
	default:
	}
}

// Run drains on the periodic ticker and on connectivity-regained signals
// until the context is canceled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(q.cfg.DrainIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.online:
		case <-ticker.C:
		}
		if err := q.Drain(ctx); err != nil && ctx.Err() == nil {
			q.log.Warnf("drain: %v", err)
		}
	}
}

// Drain processes the queue strictly in creation order, one mutation in
// flight at a time. Context cancellation (connectivity lost) stops the cycle
// without touching the in-flight mutation, which stays queued for the next
// attempt. Only one drain cycle runs at a time.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	pend, err := q.storage.Pending(ctx)
	if err != nil {
		return err
	}
	for _, m := range pend {
		if err := q.deliver(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// deliver pushes one mutation until it is delivered, dropped, or the context
// is canceled.
func (q *Queue) deliver(ctx context.Context, m Mutation) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := q.submit.Submit(ctx, m)
		if err == nil {
			if derr := q.storage.Delete(ctx, m.ID); derr != nil {
				return fmt.Errorf("ack mutation %s: %w", m.ID, derr)
			}
			queueDepth.Dec()
			syncDelivered.WithLabelValues(string(m.Type)).Inc()
			q.publish(m, "delivered", nil)
			q.log.Debugf("delivered %s mutation %s", m.Type, m.ID)
			return nil
		}
		if ctx.Err() != nil {
			// Connectivity dropped mid-flight: the mutation stays queued,
			// untouched, for the next cycle.
			return ctx.Err()
		}
		if !Retryable(err) {
			q.log.Warnf("mutation %s rejected by server, dropping: %v", m.ID, err)
			return q.drop(ctx, m, err)
		}
		m.RetryCount++
		if m.RetryCount >= q.cfg.RetryCeiling {
			q.log.Errorf("mutation %s failed %d times, dropping: %v", m.ID, m.RetryCount, err)
			return q.drop(ctx, m, err)
		}
		if uerr := q.storage.Update(ctx, m); uerr != nil {
			return fmt.Errorf("record retry for %s: %w", m.ID, uerr)
		}
		syncRetries.WithLabelValues(string(m.Type)).Inc()
		q.publish(m, "retried", err)
		if serr := q.sleep(ctx, q.backoff(m.RetryCount)); serr != nil {
			return serr
		}
	}
}

// drop removes a mutation without delivery. The loss is surfaced on the bus
// and in the logs, never silent, and never blocks subsequent mutations.
func (q *Queue) drop(ctx context.Context, m Mutation, cause error) error {
	if err := q.storage.Delete(ctx, m.ID); err != nil {
		return fmt.Errorf("drop mutation %s: %w", m.ID, err)
	}
	queueDepth.Dec()
	syncDropped.WithLabelValues(string(m.Type)).Inc()
	q.publish(m, "dropped", cause)
	return nil
}

// backoff returns the delay before the given retry attempt, exponential with
// a cap.
func (q *Queue) backoff(attempt int) time.Duration {
	d := time.Duration(q.cfg.BackoffBaseSeconds) * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if limit := time.Duration(q.cfg.BackoffCapSeconds) * time.Second; d > limit {
		d = limit
	}
	return d
}

// Depth returns the number of queued mutations, shown to the user as
// "pending sync".
func (q *Queue) Depth(ctx context.Context) (int, error) {
	pend, err := q.storage.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pend), nil
}

// Close releases the underlying storage.
func (q *Queue) Close() error { return q.storage.Close() }

func (q *Queue) publish(m Mutation, action string, err error) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(events.SyncEvent{
		MutationID: m.ID,
		Type:       string(m.Type),
		Action:     action,
		RetryCount: m.RetryCount,
		Err:        err,
		Timestamp:  q.now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
