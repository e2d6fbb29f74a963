// Package logsink implements the router's own structured file log: a
// date-rotating JSON-lines *os.File wrapped as a zapcore.Core and teed with
// the stdout core. It also holds the bounded concurrent fetch used to relay
// a node's /api/logs response for the dashboard, so a burst of dashboard
// requests cannot spawn unbounded outbound goroutines.
package logsink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/akiojin/llm-router/internal/pool"
	"github.com/akiojin/llm-router/internal/protocol"
)

const fileNamePrefix = "llm-router.jsonl."
const dateLayout = "2006-01-02"

// FileCore is a zapcore.Core that appends to a date-named file under dir,
// rotating to a new file the first time Write is called on a new day.
type FileCore struct {
	zapcore.Core
	rf *rotatingFile
}

// rotatingFile is the zapcore.WriteSyncer backing a FileCore: an *os.File
// that rotates to a new day's path the first time it is written to on a
// new day.
type rotatingFile struct {
	dir  string
	file *os.File
	day  string
}

// NewFileCore builds a zapcore.Core writing JSON-lines to
// dir/llm-router.jsonl.YYYY-MM-DD, opening (or creating) today's file
// immediately.
func NewFileCore(dir string, enab zapcore.LevelEnabler, encoderCfg zapcore.EncoderConfig) (*FileCore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: mkdir %s: %w", dir, err)
	}

	rf := &rotatingFile{dir: dir}
	if err := rf.rotate(time.Now().UTC()); err != nil {
		return nil, err
	}
	enc := zapcore.NewJSONEncoder(encoderCfg)
	return &FileCore{Core: zapcore.NewCore(enc, rf, enab), rf: rf}, nil
}

func (rf *rotatingFile) rotate(now time.Time) error {
	day := now.Format(dateLayout)
	if rf.file != nil && rf.day == day {
		return nil
	}
	if rf.file != nil {
		_ = rf.file.Close()
	}

	path := filepath.Join(rf.dir, fileNamePrefix+day)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logsink: open %s: %w", path, err)
	}
	rf.file = f
	rf.day = day
	return nil
}

// Write implements zapcore.WriteSyncer, rotating to a new day's file first
// if the date has changed since the last write.
func (rf *rotatingFile) Write(p []byte) (int, error) {
	if err := rf.rotate(time.Now().UTC()); err != nil {
		return 0, err
	}
	return rf.file.Write(p)
}

// Sync implements zapcore.WriteSyncer.
func (rf *rotatingFile) Sync() error {
	if rf.file == nil {
		return nil
	}
	return rf.file.Sync()
}

// Close releases the current file handle.
func (fc *FileCore) Close() error {
	if fc.rf.file == nil {
		return nil
	}
	return fc.rf.file.Close()
}

// SweepOldFiles deletes log files under dir older than retention, based on
// the date encoded in their filename. Call once at startup and on a daily
// ticker; a stat/remove failure for one file never stops the sweep.
func SweepOldFiles(dir string, retention time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("logsink: read %s: %w", dir, err)
	}

	cutoff := time.Now().UTC().Add(-retention)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), fileNamePrefix) {
			continue
		}
		dateStr := strings.TrimPrefix(entry.Name(), fileNamePrefix)
		day, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

// Tail returns up to n of the most recent JSON log lines from today's file,
// newest last, for GET /api/dashboard/logs/coordinator.
func Tail(dir string, n int) ([]json.RawMessage, error) {
	path := filepath.Join(dir, fileNamePrefix+time.Now().UTC().Format(dateLayout))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("logsink: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("logsink: scan %s: %w", path, err)
	}

	out := make([]json.RawMessage, 0, len(lines))
	for _, line := range lines {
		out = append(out, json.RawMessage(line))
	}
	return out, nil
}

// NodeLogProxy relays GET /api/logs?tail=N to a node, bounding concurrent
// in-flight fetches through a goroutine pool so a burst of dashboard
// requests cannot spawn unbounded outbound goroutines.
type NodeLogProxy struct {
	client *http.Client
	pool   *pool.GoroutinePool
}

// NewNodeLogProxy builds a NodeLogProxy using client for outbound requests
// and cfg to size the bounded pool.
func NewNodeLogProxy(client *http.Client, cfg pool.GoroutinePoolConfig) *NodeLogProxy {
	return &NodeLogProxy{client: client, pool: pool.NewGoroutinePool(cfg)}
}

// FetchNodeLogs fetches up to tail log entries from node's own /api/logs
// endpoint, running the outbound call on the bounded pool.
func (p *NodeLogProxy) FetchNodeLogs(ctx context.Context, node *protocol.Node, tail int) ([]byte, error) {
	var body []byte
	var fetchErr error

	err := p.pool.SubmitWait(ctx, func(ctx context.Context) error {
		url := fmt.Sprintf("http://%s:%d/api/logs?tail=%d", node.IPAddress, node.APIPort, tail)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			fetchErr = err
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			fetchErr = err
			return err
		}
		defer resp.Body.Close()
		body, fetchErr = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fetchErr
	})
	if err != nil {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, err
	}
	return body, nil
}

// Close releases the underlying pool's workers.
func (p *NodeLogProxy) Close() {
	p.pool.Close()
}
