// Package logstore keeps the append-only history of accepted chat messages.
//
// A Log wraps a byte-oriented Backend. Records are encoded chat messages, one
// per line. Backends never read existing content to append, so the only
// requirement is that appends are not run concurrently, which Log enforces.
package logstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/Tyrowin/portalchat/internal/chat"
)

var (
	// ErrWriteFailure is returned when the backend cannot be opened or written.
	ErrWriteFailure = errors.New("logstore: write failure")
	// ErrNotFound is returned by backends when the log does not exist.
	ErrNotFound = errors.New("logstore: log not found")
)

// Backend is the persistent byte store behind a Log.
type Backend interface {
	// Append adds data to the end of the log, creating it when absent.
	Append(data []byte) error
	// ReadAll returns the whole log. A missing log yields empty content and ErrNotFound.
	ReadAll() ([]byte, error)
	// Clear removes the log. A missing log yields ErrNotFound.
	Clear() error
	// Close releases backend resources.
	Close() error
}

const recordSeparator = '\n'

// Log is the chat history store used by the relay and the debug interface.
type Log struct {
	mu      sync.Mutex
	backend Backend
	codec   chat.Codec
}

// New returns a Log writing through backend. The codec used for records has
// no size bounds; the relay validates before appending.
func New(backend Backend) *Log {
	return &Log{backend: backend, codec: chat.Codec{}}
}

// Append encodes msg and appends it as one record.
func (l *Log) Append(msg chat.Message) error {
	data, err := l.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return l.append(append(data, recordSeparator))
}

// AppendRaw appends text as its own record, adding the separator when text
// does not end with one. It exists for the debug file interface and may leave
// records the Messages reader cannot parse.
func (l *Log) AppendRaw(text []byte) error {
	if len(text) == 0 {
		return nil
	}
	if text[len(text)-1] != recordSeparator {
		text = append(text[:len(text):len(text)], recordSeparator)
	}
	return l.append(text)
}

func (l *Log) append(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.backend.Append(data); err != nil {
		if errors.Is(err, ErrWriteFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return nil
}

// ReadAll returns the raw log contents. A missing log is empty content, not an error.
func (l *Log) ReadAll() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.backend.ReadAll()
	if errors.Is(err, ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Clear removes the log. Clearing a log that does not exist succeeds.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.backend.Clear(); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Messages decodes every record in append order. Lines that do not decode,
// such as raw debug appends, are skipped and counted in the second result.
func (l *Log) Messages() ([]chat.Message, int, error) {
	data, err := l.ReadAll()
	if err != nil {
		return nil, 0, err
	}

	var (
		msgs    []chat.Message
		skipped int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), len(data)+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := l.codec.Decode(line)
		if err != nil {
			skipped++
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return msgs, skipped, fmt.Errorf("scan log: %w", err)
	}
	return msgs, skipped, nil
}

// Close closes the backend.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend.Close()
}
