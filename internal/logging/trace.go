package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Tracer records upstream diagnostics (HTTP status, content type, raw error
// bodies) to a dedicated file. A disabled or nil Tracer discards everything.
type Tracer struct {
	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
}

// NewTracer opens path for appending when enabled is true.
func NewTracer(enabled bool, path string) (*Tracer, error) {
	if !enabled || path == "" {
		return &Tracer{logger: zerolog.Nop()}, nil
	}
	if err := mkdirAllFn(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	file, err := openFileFn(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePerm)
	if err != nil {
		return nil, err
	}
	return &Tracer{
		file:   file,
		logger: zerolog.New(file).With().Timestamp().Logger(),
	}, nil
}

// NewWriterTracer traces to w. Used by tests and the CLI.
func NewWriterTracer(w io.Writer) *Tracer {
	return &Tracer{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Event starts a trace event. Callers must finish it with Msg or Send.
func (t *Tracer) Event() *zerolog.Event {
	if t == nil {
		return nil
	}
	return t.logger.Log()
}

// Enabled reports whether trace output is written anywhere.
func (t *Tracer) Enabled() bool {
	return t != nil && t.logger.GetLevel() != zerolog.Disabled
}

// Close releases the trace file.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.logger = zerolog.Nop()
	return err
}
