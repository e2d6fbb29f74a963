package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// defaultCleanupInterval is how often the Cleaner prunes the in-memory deque of
// records older than the configured retention window.
const defaultCleanupInterval = time.Hour

// Cleaner periodically prunes records older than Store.retention from the
// in-memory deque. The journal file itself is append-only and never
// rewritten in place; operators rotate it externally if disk use matters.
type Cleaner struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleaner builds a Cleaner for store. A non-positive interval defaults to
// defaultCleanupInterval.
func NewCleaner(store *Store, interval time.Duration, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &Cleaner{
		store:    store,
		interval: interval,
		logger:   logger.With(zap.String("component", "history_cleanup")),
	}
}

// Start launches the background sweep loop.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cancel != nil {
		panic("history: cleaner already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.loop(ctx)
}

// Stop cancels the background loop and waits for it to exit.
func (c *Cleaner) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Cleaner) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cleaner) sweep() {
	cutoff := time.Now().UTC().Add(-c.store.retention)

	c.store.mu.Lock()
	kept := c.store.records[:0:0]
	for _, rec := range c.store.records {
		if rec.CompletedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := len(c.store.records) - len(kept)
	c.store.records = kept
	c.store.mu.Unlock()

	if removed > 0 {
		c.logger.Info("pruned expired history records",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff),
		)
	}
}
