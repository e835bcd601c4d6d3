package capture

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a capture file. Log never blocks the link on
// a bad event or a failing disk: the first failure is kept for Err and
// later events are still attempted.
type FileLogger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	encoder *cbor.Encoder
	written uint64
	err     error
	closed  bool
}

// NewFileLogger opens path for appending, creating it with mode 0644.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	return &FileLogger{path: path, file: f, encoder: newEncoder(f)}, nil
}

// Log appends event. Events logged after Close are discarded.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	err := event.Validate()
	if err == nil {
		err = l.encoder.Encode(event)
	}
	if err != nil {
		if l.err == nil {
			l.err = fmt.Errorf("capture: %s: event %d: %w", l.path, l.written, err)
		}
		return
	}
	l.written++
}

// Count returns the number of events written.
func (l *FileLogger) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Err returns the first error Log ran into, if any.
func (l *FileLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close flushes and closes the file. It reports the first Log failure if
// closing itself succeeded.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("capture: sync %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("capture: close %s: %w", l.path, err)
	}
	return l.err
}

var _ Logger = (*FileLogger)(nil)
