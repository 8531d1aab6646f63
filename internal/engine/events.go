package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// eventLog appends one JSON object per line to <logs_dir>/<run_id>.jsonl.
// The slog message becomes the "event" field.
type eventLog struct {
	logger *slog.Logger
	closer io.Closer
}

func openEventLog(dir, runID string) (*eventLog, error) {
	if dir == "" {
		return &eventLog{logger: slog.New(slog.DiscardHandler)}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, runID+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	h := slog.NewJSONHandler(f, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.MessageKey:
				a.Key = "event"
			case slog.LevelKey:
				return slog.Attr{}
			}
			return a
		},
	})
	return &eventLog{logger: slog.New(h).With("run_id", runID), closer: f}, nil
}

func (l *eventLog) emit(event string, args ...any) {
	l.logger.Info(event, args...)
}

func (l *eventLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
