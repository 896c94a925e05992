// Package accesslog persists access attempts as monthly-partitioned,
// append-only JSON lines with line-ceiling rotation.
package accesslog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dlorenzo/portfolio-gate/internal/metrics"
	"github.com/rs/zerolog"
)

// queueDepth bounds the async writer backlog. A full queue drops the entry;
// audit logging is best-effort and must never stall a request.
const queueDepth = 256

// Store appends entries to the current month's partition file. Record is
// asynchronous and best-effort; Append is the synchronous path behind it.
type Store struct {
	dir      string
	maxLines int
	log      zerolog.Logger
	now      func() time.Time

	mu sync.Mutex // serializes appends and rotation

	queue     chan Entry
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the log directory if needed and starts the writer goroutine.
func New(dir string, maxLines int, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		maxLines: maxLines,
		log:      log,
		now:      time.Now,
		queue:    make(chan Entry, queueDepth),
		done:     make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Record enqueues an entry for the writer goroutine. It never blocks and
// never fails the caller: a full queue drops the entry and counts it.
// Must not be called after Close.
func (s *Store) Record(e Entry) {
	select {
	case s.queue <- s.normalize(e):
	default:
		metrics.LogEntriesDropped.WithLabelValues("queue_full").Inc()
		s.log.Warn().Str("reason", e.Reason).Msg("access log entry dropped: queue full")
	}
}

// Close drains pending entries and stops the writer goroutine.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	<-s.done
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for e := range s.queue {
		if err := s.Append(e); err != nil {
			// Best-effort by contract: the failure is counted and logged,
			// never propagated to the request that produced the entry.
			metrics.LogWriteFailures.Inc()
			s.log.Warn().Err(err).Msg("access log append failed")
		}
	}
}

// normalize fills defaults and clamps oversized fields.
func (s *Store) normalize(e Entry) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if e.IP == "" {
		e.IP = "unknown"
	}
	if e.UserAgent == "" {
		e.UserAgent = "unknown"
	}
	if len(e.UserAgent) > maxUserAgentLen {
		e.UserAgent = e.UserAgent[:maxUserAgentLen]
	}
	return e
}

// Append writes one entry to the partition for its timestamp, rotating the
// partition afterwards if it exceeds the line ceiling.
func (s *Store) Append(e Entry) error {
	e = s.normalize(e)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.partitionPath(e.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open partition %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	return s.rotateIfNeeded(path)
}

// ReadRecent returns the last limit entries of the current month's
// partition, oldest first. A missing partition is an empty result.
func (s *Store) ReadRecent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.partitionPath(s.now())
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open partition %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip corrupt lines
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// GetStats aggregates counts over up to 1000 most recent entries.
func (s *Store) GetStats() (Stats, error) {
	entries, err := s.ReadRecent(1000)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(entries)}
	ips := make(map[string]struct{})
	for _, e := range entries {
		if e.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		if e.Reason == ReasonRateLimitExceeded {
			stats.RateLimited++
		}
		ips[e.IP] = struct{}{}
	}
	stats.UniqueIPs = len(ips)
	if len(entries) > 0 {
		stats.LastAccess = entries[len(entries)-1].Timestamp
	}
	return stats, nil
}

// SizeBytes returns the on-disk size of the current partition, 0 when it
// does not exist yet.
func (s *Store) SizeBytes() (int64, error) {
	info, err := os.Stat(s.partitionPath(s.now()))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// partitionPath is the active file for the UTC calendar month of t.
func (s *Store) partitionPath(t time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("access-%s.json", t.UTC().Format("2006-01")))
}

// rotateIfNeeded renames the partition to a timestamped backup once it
// exceeds the line ceiling; the next append recreates the active file.
// Caller holds s.mu.
func (s *Store) rotateIfNeeded(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for rotation check: %w", err)
	}
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			lines++
		}
	}
	scanErr := scanner.Err()
	_ = f.Close()
	if scanErr != nil {
		return fmt.Errorf("count lines: %w", scanErr)
	}

	if lines <= s.maxLines {
		return nil
	}

	ts := sanitizeTimestamp(s.now().UTC().Format(time.RFC3339Nano))
	backup := strings.TrimSuffix(path, ".json") + "-backup-" + ts + ".json"
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("rotate %s: %w", path, err)
	}
	s.log.Info().Str("backup", backup).Int("lines", lines).Msg("access log partition rotated")
	return nil
}

// sanitizeTimestamp makes an RFC3339 timestamp filesystem-safe.
func sanitizeTimestamp(ts string) string {
	ts = strings.ReplaceAll(ts, ":", "-")
	return strings.ReplaceAll(ts, ".", "-")
}
