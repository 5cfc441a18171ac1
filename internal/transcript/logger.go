// Package transcript writes per-session NDJSON conversation transcripts.
package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Event is one line of a transcript file.
type Event struct {
	Timestamp  time.Time `json:"ts"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Channel    string    `json:"channel"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"event_type"`
	Content    string    `json:"content"`
	ContentRaw string    `json:"content_raw,omitempty"`
	Crisis     bool      `json:"crisis,omitempty"`
}

// Config controls the transcript writer.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger records conversation events. Log never blocks the caller.
type Logger interface {
	Log(event Event)
	Close() error
}

// NewLogger starts a transcript writer, or returns a no-op logger when
// transcripts are disabled.
func NewLogger(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript dir cannot be empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

type noopLogger struct{}

// Noop returns a logger that discards every event.
func Noop() Logger { return noopLogger{} }

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

type fileLogger struct {
	dir    string
	queue  chan Event
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func (l *fileLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ContentRaw == "" {
		event.ContentRaw = event.Content
	}
	event.Content = cleanForReadability(event.ContentRaw)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("transcript queue full, dropping event",
			"session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Error("failed to write transcript event",
				"session_id", event.SessionID, "error", err)
		}
	}
}

func (l *fileLogger) write(event Event) error {
	dir := filepath.Join(l.dir, safeComponent(event.UserID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	path := filepath.Join(dir, safeComponent(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // path components are sanitized
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

var (
	ansiPattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafePattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of blank space.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// safeComponent turns an identifier into a single path element. IDs that
// need rewriting get a hash suffix so distinct IDs never share a file.
func safeComponent(id string) string {
	s := unsafePattern.ReplaceAllString(id, "_")
	s = strings.Trim(s, ".")
	if s == id && s != "" {
		return s
	}
	if s == "" {
		s = "unknown"
	}
	sum := sha256.Sum256([]byte(id))
	return s + "-" + hex.EncodeToString(sum[:4])
}
