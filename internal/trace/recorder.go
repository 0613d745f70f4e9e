package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/mqttlink/internal/connection"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Recorder appends trace records to a file.
// It is safe for concurrent use from multiple goroutines.
type Recorder struct {
	file     *os.File
	encoder  *cbor.Encoder
	messages bool

	mu     sync.Mutex
	closed bool
	err    error
}

// NewRecorder opens path for appending, creating it and its directory if
// needed. When recordMessages is false RecordMessage is a no-op.
func NewRecorder(path string, recordMessages bool) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("trace: creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("trace: opening %s: %w", path, err)
	}
	return &Recorder{
		file:     f,
		encoder:  newEncoder(f),
		messages: recordMessages,
	}, nil
}

// OnEvent implements connection.Observer.
func (r *Recorder) OnEvent(ev connection.Event) {
	r.write(EventRecord(ev))
}

// RecordMessage records a received message. It matches
// connection.MessageHandler.
func (r *Recorder) RecordMessage(topic string, payload []byte, msg connection.Message) {
	if !r.messages {
		return
	}
	r.write(MessageRecord(topic, payload, msg))
}

// Wrap returns a handler that records each message and then calls next.
// next may be nil.
func (r *Recorder) Wrap(next connection.MessageHandler) connection.MessageHandler {
	return func(topic string, payload []byte, msg connection.Message) {
		r.RecordMessage(topic, payload, msg)
		if next != nil {
			next(topic, payload, msg)
		}
	}
}

// Err returns the first write error, if any. Recording stops being useful
// after a write error but never disrupts the caller.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) write(rec Record) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err := r.encoder.Encode(rec); err != nil && r.err == nil {
		r.err = fmt.Errorf("trace: writing record: %w", err)
	}
}

// Close syncs and closes the file. Later records are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.file.Sync(); err != nil {
		r.file.Close() //nolint:errcheck // already failing
		return fmt.Errorf("trace: syncing: %w", err)
	}
	return r.file.Close()
}
