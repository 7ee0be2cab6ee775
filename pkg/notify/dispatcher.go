package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// defaultQueueCap is the bound on each per-category queue. Enqueues beyond
// it are dropped with a warning rather than evicting older records.
const defaultQueueCap = 5000

// DispatcherConfig holds the dispatcher's tunables. The zero value gets
// production defaults; tests compress the sleeps.
type DispatcherConfig struct {
	// QueueCap bounds each category queue. Defaults to 5000.
	QueueCap int
	// EmptySleep is how long the drain loop sleeps when no queues exist.
	// Defaults to 30s.
	EmptySleep time.Duration
	// SendSleep is the pause after each successful delivery. Defaults to 10s.
	SendSleep time.Duration
	// RetrySleep is the backoff after a server-side delivery failure.
	// Defaults to 30s.
	RetrySleep time.Duration
}

func (c *DispatcherConfig) applyDefaults() {
	if c.QueueCap <= 0 {
		c.QueueCap = defaultQueueCap
	}
	if c.EmptySleep <= 0 {
		c.EmptySleep = 30 * time.Second
	}
	if c.SendSleep <= 0 {
		c.SendSleep = 10 * time.Second
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = 30 * time.Second
	}
}

// Dispatcher owns the per-category error queues and the single background
// drain loop that delivers them. Queues are created lazily on first enqueue
// and removed once the drain loop observes them empty; enqueue and removal
// hold the same lock, so a record can never land in a queue the loop has
// already forgotten.
//
// Enqueue is safe for concurrent use; the drain loop is the only consumer.
type Dispatcher struct {
	cfg    DispatcherConfig
	sender Sender
	logger zerolog.Logger

	mu     sync.Mutex
	queues map[string]chan *Record

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher delivering through sender.
func NewDispatcher(cfg DispatcherConfig, sender Sender, logger zerolog.Logger) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	cfg.applyDefaults()

	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		logger: logger.With().Str("component", "NotificationDispatcher").Logger(),
		queues: make(map[string]chan *Record),
	}, nil
}

// Enqueue classifies err and appends it to its category's queue. A queue
// already holding more than the configured cap drops the record and logs a
// warning; nothing is ever evicted mid-queue.
func (d *Dispatcher) Enqueue(err error) {
	record := NewRecord(err)

	// The lock covers the send as well as the map access: removal checks
	// emptiness under the same lock, so it cannot delete a category between
	// this lookup and the record landing in its channel.
	d.mu.Lock()
	defer d.mu.Unlock()

	queue, ok := d.queues[record.Category]
	if !ok {
		queue = make(chan *Record, d.cfg.QueueCap)
		d.queues[record.Category] = queue
	}

	select {
	case queue <- record:
	default:
		d.logger.Warn().
			Str("category", record.Category).
			Int("queued", len(queue)).
			Msg("Error queue is full, dropping record.")
	}
}

// Start launches the background drain loop. The loop runs until ctx is
// cancelled; cancellation may land mid-sleep or mid-delivery and requires
// no cleanup beyond dropping in-flight state.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Msg("Starting notification dispatcher...")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.watch(ctx)
	}()
}

// Stop waits for the drain loop to exit after its context has been
// cancelled, respecting the provided context's deadline.
func (d *Dispatcher) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("Notification dispatcher stopped.")
		return nil
	case <-ctx.Done():
		d.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for notification dispatcher to stop.")
		return ctx.Err()
	}
}

// watch is the drain loop: round-robin over a snapshot of category keys,
// one delivery per populated category per pass.
func (d *Dispatcher) watch(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		keys := d.categoryKeys()
		if len(keys) == 0 {
			if !d.sleep(ctx, d.cfg.EmptySleep) {
				return
			}
			continue
		}

		for _, key := range keys {
			if ctx.Err() != nil {
				return
			}

			queue, ok := d.lookup(key)
			if !ok {
				continue
			}

			if d.removeIfEmpty(key) {
				continue
			}

			if d.notifyGroup(ctx, queue) {
				// Keep the category: new records may have arrived while
				// the notification was being sent.
				if !d.sleep(ctx, d.cfg.SendSleep) {
					return
				}
			}
		}
	}
}

// notifyGroup drains the queue and delivers one notification summarizing
// the batch. It reports whether a message was sent.
func (d *Dispatcher) notifyGroup(ctx context.Context, queue chan *Record) bool {
	records := drain(queue)
	if len(records) == 0 {
		d.logger.Warn().Msg("notifyGroup invoked on an empty queue, skipping.")
		return false
	}

	err := d.sender.Send(ctx, formatMessage(records))
	if err == nil {
		return true
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		// Connectivity-level failure: the batch is lost.
		d.logger.Warn().Err(err).Msg("Failed to post notification.")
		return false
	}

	if statusErr.Code >= 500 {
		// Transient server-side failure: requeue the first record only and
		// back off before the next category.
		d.logger.Warn().
			Int("status", statusErr.Code).
			Str("description", statusErr.Description).
			Msg("Notification channel error, requeueing first record.")
		select {
		case queue <- records[0]:
		default:
		}
		d.sleep(ctx, d.cfg.RetrySleep)
		return false
	}

	d.logger.Warn().
		Int("status", statusErr.Code).
		Str("description", statusErr.Description).
		Msg("Notification rejected, discarding batch.")
	return false
}

// QueueLen reports the number of records queued for category.
func (d *Dispatcher) QueueLen(category string) int {
	queue, ok := d.lookup(category)
	if !ok {
		return 0
	}
	return len(queue)
}

func (d *Dispatcher) categoryKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.queues))
	for key := range d.queues {
		keys = append(keys, key)
	}
	return keys
}

func (d *Dispatcher) lookup(category string) (chan *Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue, ok := d.queues[category]
	return queue, ok
}

// removeIfEmpty deletes the category when its queue is observed empty under
// the lock, and reports whether the drain loop should skip it this pass.
// Concurrent enqueues hold the same lock, so a queue found empty here has
// no in-flight record about to land in it.
func (d *Dispatcher) removeIfEmpty(category string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue, ok := d.queues[category]
	if !ok {
		return true
	}
	if len(queue) > 0 {
		return false
	}
	delete(d.queues, category)
	return true
}

// sleep pauses for duration, reporting false if ctx was cancelled first.
func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func drain(queue chan *Record) []*Record {
	var records []*Record
	for {
		select {
		case record := <-queue:
			records = append(records, record)
		default:
			return records
		}
	}
}
