package authkit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is one security-relevant occurrence: a sign-in, a failed
// code, a password reset. Events are delivered asynchronously; sinks
// must not assume ordering across principals.
type AuditEvent struct {
	Timestamp   time.Time         `json:"ts"`
	EventType   string            `json:"event"`
	PrincipalID string            `json:"principal_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Success     bool              `json:"success"`
	ErrorCode   string            `json:"error_code,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the dispatcher goroutine. Write
// must be safe for use from a single goroutine and should not block for
// long; a slow sink backs up the buffer and causes drops.
type AuditSink interface {
	Write(ctx context.Context, event AuditEvent) error
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Write implements AuditSink.
func (NoOpSink) Write(context.Context, AuditEvent) error { return nil }

// ChannelSink forwards events to a channel, dropping when it is full.
type ChannelSink struct {
	C chan AuditEvent
}

// NewChannelSink returns a sink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan AuditEvent, buffer)}
}

// Write implements AuditSink.
func (s *ChannelSink) Write(_ context.Context, event AuditEvent) error {
	select {
	case s.C <- event:
	default:
	}
	return nil
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONWriterSink wraps the writer; it is safe for concurrent Write.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w}
}

// Write implements AuditSink.
func (s *JSONWriterSink) Write(_ context.Context, event AuditEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(raw)
	return err
}
