// Package history implements the Request History component: a bounded
// in-memory deque of recent proxy requests for dashboard queries, backed by
// an append-only JSON-lines journal for audit. Journal writes are async and
// best-effort, and carry the router's single RequestRecord shape. Journal
// appends are serialized behind a single writer goroutine draining a
// channel.TunableChannel, so a burst of completions never blocks the proxy
// hot path on disk I/O.
package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/channel"
	"github.com/akiojin/llm-router/internal/protocol"
)

// DefaultRecentCapacity bounds the in-memory deque; the same capacity is the
// journal write queue's initial buffer size. The per-minute aggregation
// uses MinuteBuckets below.
const DefaultRecentCapacity = 500

// MinuteBuckets is how many trailing one-minute buckets the dashboard
// aggregation reports.
const MinuteBuckets = 60

// DefaultRetention is how long records stay in the in-memory deque before
// the Cleaner prunes them. The journal file is not pruned.
const DefaultRetention = 7 * 24 * time.Hour

// Store is the Request History component: a bounded recent-records ring
// buffer plus an append-only JSONL journal file.
type Store struct {
	mu       sync.RWMutex
	records  []*protocol.RequestRecord
	capacity int

	journalPath string
	journal     *os.File
	dropped     atomic.Uint64

	queue      *channel.TunableChannel[*protocol.RequestRecord]
	writerDone chan struct{}
	cancel     context.CancelFunc

	retention time.Duration
	logger    *zap.Logger
}

// Config configures a Store.
type Config struct {
	// Capacity bounds the in-memory ring buffer. Defaults to
	// DefaultRecentCapacity.
	Capacity int
	// JournalPath is the JSONL audit file. Empty disables journaling.
	JournalPath string
	// Retention is how long records stay in the in-memory deque before the
	// Cleaner prunes them; the journal file is not pruned. Defaults to
	// DefaultRetention.
	Retention time.Duration
}

// New builds a Store, opening the journal file (if configured) for append.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	s := &Store{
		records:     make([]*protocol.RequestRecord, 0, capacity),
		capacity:    capacity,
		journalPath: cfg.JournalPath,
		retention:   retention,
		logger:      logger.With(zap.String("component", "history")),
	}

	if cfg.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.JournalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		s.journal = f

		qcfg := channel.DefaultTunableConfig()
		qcfg.InitialSize = capacity
		s.queue = channel.NewTunableChannel[*protocol.RequestRecord](qcfg)

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.writerDone = make(chan struct{})
		go s.writeLoop(ctx)
	}

	return s, nil
}

// writeLoop is the single writer task that drains the journal queue and
// appends each record to disk. It periodically re-tunes the queue's
// capacity based on observed send/block pressure.
func (s *Store) writeLoop(ctx context.Context) {
	defer close(s.writerDone)

	tuneTicker := time.NewTicker(channel.DefaultTunableConfig().SampleWindow)
	defer tuneTicker.Stop()

	for {
		rec, err := s.queue.Receive(ctx)
		if err != nil {
			// Context cancelled: drain whatever is left, then exit.
			for {
				rec, ok := s.queue.TryReceive()
				if !ok {
					return
				}
				s.writeJournal(rec)
			}
		}
		s.writeJournal(rec)

		select {
		case <-tuneTicker.C:
			s.queue.Tune()
		default:
		}
	}
}

// Record appends a completed request to the deque and journal. History
// writes are best-effort per spec: a journal failure is logged, counted,
// and never surfaces to the caller.
func (s *Store) Record(_ context.Context, rec *protocol.RequestRecord) {
	s.mu.Lock()
	if len(s.records) >= s.capacity {
		// Drop the oldest entry to stay within capacity.
		copy(s.records, s.records[1:])
		s.records = s.records[:len(s.records)-1]
	}
	s.records = append(s.records, rec)
	s.mu.Unlock()

	if s.queue == nil {
		return
	}
	// Best-effort: a full queue drops the record rather than blocking the
	// proxy response on disk I/O.
	if !s.queue.TrySend(rec) {
		s.dropped.Add(1)
		s.logger.Warn("history journal queue full, dropping record", zap.String("request_id", rec.ID))
	}
}

// writeJournal appends one record to the journal file. Only ever called
// from the single writer goroutine started by New.
func (s *Store) writeJournal(rec *protocol.RequestRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("failed to marshal history record", zap.Error(err))
		s.dropped.Add(1)
		return
	}

	if _, err := s.journal.Write(append(data, '\n')); err != nil {
		s.logger.Error("failed to append history journal", zap.Error(err))
		s.dropped.Add(1)
	}
}

// Recent returns up to limit of the most recent records, newest first. A
// non-positive limit returns the full deque.
func (s *Store) Recent(limit int) []*protocol.RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*protocol.RequestRecord, n)
	for i := 0; i < n; i++ {
		out[i] = s.records[len(s.records)-1-i]
	}
	return out
}

// ByNode returns recent records for a single node, newest first.
func (s *Store) ByNode(nodeID string, limit int) []*protocol.RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*protocol.RequestRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].NodeID != nodeID {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// DroppedWrites reports how many journal appends have failed since startup.
func (s *Store) DroppedWrites() uint64 {
	return s.dropped.Load()
}

// Close stops the writer goroutine, draining any queued records, then
// flushes and closes the journal file.
func (s *Store) Close() error {
	if s.journal == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		<-s.writerDone
	}
	return s.journal.Close()
}
