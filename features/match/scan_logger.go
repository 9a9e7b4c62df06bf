package match

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ScanEntry is one line of the scan log.
type ScanEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Username      string        `json:"username,omitempty"`
	ISBN          string        `json:"isbn,omitempty"`
	Score         float64       `json:"score,omitempty"`
	Candidates    int           `json:"candidates"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	LatencyMs     int64         `json:"latency_ms"`
	CorrelationID string        `json:"correlation_id"`
}

type ScanLogger struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewScanLogger(w io.Writer) *ScanLogger {
	return &ScanLogger{writer: w}
}

// NewFileScanLogger appends JSON lines to path and mirrors them to stdout.
// The caller closes the returned file once no more scans are logged.
func NewFileScanLogger(path string) (*ScanLogger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, nil, err
	}
	return NewScanLogger(io.MultiWriter(os.Stdout, f)), f, nil
}

func (l *ScanLogger) Log(entry ScanEntry) {
	entry.Timestamp = time.Now()
	entry.LatencyMs = entry.Duration.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.Error("failed to write scan log entry", "error", err)
	}
}
