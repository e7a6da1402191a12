package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bindiq/onboard/internal/config"
)

// LogEvent is one conversation turn entry written to the audit log.
type LogEvent struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	StateTag  string    `json:"state"`
	Timestamp time.Time `json:"ts"`
}

// ConversationLogger asynchronously appends turn events to per-session
// NDJSON files. Writes happen on a background goroutine so slow disks
// never block turn processing; when the queue is full events are dropped,
// the store remains the authoritative history.
type ConversationLogger struct {
	dir    string
	queue  chan LogEvent
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewConversationLogger creates the audit logger, or returns (nil, nil)
// when logging is disabled. A nil *ConversationLogger is safe to use.
func NewConversationLogger(cfg config.ConversationLogConfig, logger *slog.Logger) (*ConversationLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	l := &ConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan LogEvent, cfg.QueueSize),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues an event. Never blocks.
func (l *ConversationLogger) Log(ev LogEvent) {
	if l == nil {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"session_id", ev.SessionID)
	}
}

// Close drains the queue and stops the writer.
func (l *ConversationLogger) Close() {
	if l == nil {
		return
	}
	close(l.queue)
	l.wg.Wait()
}

func (l *ConversationLogger) run() {
	defer l.wg.Done()
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Error("failed to write conversation log",
				"session_id", ev.SessionID, "error", err)
		}
	}
}

func (l *ConversationLogger) write(ev LogEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	path := filepath.Join(l.dir, ev.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write log line: %w", err)
	}
	return nil
}
