// Package convlog writes conversation transcripts as newline-delimited JSON,
// one file per user plus an optional global stream.
package convlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one transcript line.
type Event struct {
	Timestamp  time.Time `json:"ts"`
	UserID     string    `json:"user_id"`
	Direction  string    `json:"direction"`
	Content    string    `json:"content"`
	ContentRaw string    `json:"content_raw"`
}

// Logger queues events and writes them from a single goroutine. Log never
// blocks; events are dropped when the queue is full.
type Logger struct {
	cfg    Config
	logger *slog.Logger
	events chan Event
	done   chan struct{}
	global *os.File

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Int64
}

// New creates a transcript logger. A disabled config yields a logger whose
// methods are no-ops.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return l, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = cfg.QueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open global transcript: %w", err)
		}
		l.global = f
	}

	l.events = make(chan Event, cfg.QueueSize)
	l.done = make(chan struct{})
	go l.run()
	return l, nil
}

// Record logs one message text for userID.
func (l *Logger) Record(userID, direction, text string) {
	l.Log(Event{UserID: userID, Direction: direction, ContentRaw: text})
}

// Log enqueues e without blocking.
func (l *Logger) Log(e Event) {
	if l == nil || l.events == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Content == "" {
		e.Content = cleanForReadability(e.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.events <- e:
	default:
		if n := l.dropped.Add(1); n%100 == 1 {
			l.logger.Warn("Transcript queue full, dropping events", "dropped", n)
		}
	}
}

// Close flushes queued events and releases files.
func (l *Logger) Close() error {
	if l == nil || l.events == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()

		<-l.done
		if l.global != nil {
			err = l.global.Close()
		}
	})
	return err
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.events {
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Warn("Failed to encode transcript event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(filepath.Join(l.cfg.Dir, safeName(e.UserID)+".ndjson"), line); err != nil {
			l.logger.Warn("Failed to write transcript", "user_id", e.UserID, "error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global transcript", "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	_, err = f.Write(line)
	return err
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// safeName maps a user id to a file name that cannot escape the log dir.
// Ids that had to be rewritten get a hash of the original appended, so
// "a/b" and "a_b" land in different files.
func safeName(userID string) string {
	name := unsafeName.ReplaceAllString(userID, "_")
	name = strings.Trim(name, ".")
	if name == userID {
		return name
	}
	if name == "" {
		name = "_"
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return fmt.Sprintf("%s-%08x", name, h.Sum32())
}

// cleanForReadability drops chat markup and control characters.
func cleanForReadability(raw string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '*' || r == '_' || r == '~':
			return -1
		case r == '\n' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, raw)
	return strings.Join(strings.Fields(s), " ")
}
