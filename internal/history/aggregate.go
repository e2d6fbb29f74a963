package history

import (
	"time"

	"github.com/akiojin/llm-router/internal/protocol"
)

// MinuteBucket summarizes one minute of completed requests.
type MinuteBucket struct {
	Minute  time.Time `json:"minute"`
	Success int       `json:"success"`
	Error   int       `json:"error"`
}

// Buckets aggregates the in-memory deque into MinuteBuckets trailing
// one-minute buckets ending at the current minute, oldest first. Minutes
// with no activity still appear, with zero counts, so dashboard charts don't
// have to backfill gaps themselves.
func (s *Store) Buckets(now time.Time) []MinuteBucket {
	end := now.UTC().Truncate(time.Minute)
	start := end.Add(-time.Duration(MinuteBuckets-1) * time.Minute)

	buckets := make([]MinuteBucket, MinuteBuckets)
	for i := range buckets {
		buckets[i] = MinuteBucket{Minute: start.Add(time.Duration(i) * time.Minute)}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		ts := rec.CompletedAt.UTC().Truncate(time.Minute)
		if ts.Before(start) || ts.After(end) {
			continue
		}
		idx := int(ts.Sub(start) / time.Minute)
		if idx < 0 || idx >= len(buckets) {
			continue
		}
		switch rec.Outcome {
		case protocol.OutcomeSuccess:
			buckets[idx].Success++
		case protocol.OutcomeError:
			buckets[idx].Error++
		}
	}

	return buckets
}

// Summary is an aggregate count over the entire in-memory deque.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Error   int `json:"error"`
}

// Summary computes aggregate success/error counts over the deque.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	sum.Total = len(s.records)
	for _, rec := range s.records {
		switch rec.Outcome {
		case protocol.OutcomeSuccess:
			sum.Success++
		case protocol.OutcomeError:
			sum.Error++
		}
	}
	return sum
}
