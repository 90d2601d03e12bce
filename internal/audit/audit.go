// Package audit records a security-relevant event taxonomy keyed to
// the relay's own verbs (upload_new/upload_push/upload_finish/delete).
// An audit event never contains a key, a decrypted name, or plaintext:
// the relay never has any of those to log in the first place, by
// construction of the zero-knowledge design.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType identifies which relay verb produced an audit event.
type EventType string

const (
	EventUploadNew    EventType = "upload_new"
	EventUploadPush   EventType = "upload_push"
	EventUploadFinish EventType = "upload_finish"
	EventMetadata     EventType = "metadata_fetch"
	EventDownload     EventType = "download"
	EventDelete       EventType = "delete"
	EventExpire       EventType = "expire"
)

// AuditEvent is one relay operation's record.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	FileID    string                 `json:"file_id,omitempty"`
	RootID    string                 `json:"root_id,omitempty"`
	ClientIP  string                 `json:"client_ip,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON encodes Duration as whole milliseconds under duration_ms.
func (e AuditEvent) MarshalJSON() ([]byte, error) {
	type plain AuditEvent
	return json.Marshal(struct {
		plain
		Duration int64 `json:"duration_ms"`
	}{plain(e), e.Duration.Milliseconds()})
}

// Logger is the interface for audit logging.
type Logger interface {
	Log(event *AuditEvent) error
	LogOperation(eventType EventType, fileID, rootID, clientIP, userAgent, requestID string, success bool, err error, duration time.Duration)
	GetEvents() []*AuditEvent
	Close() error
}

type auditLogger struct {
	mu        sync.Mutex
	events    []*AuditEvent
	maxEvents int
	writer    EventWriter
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger, defaulting to a stdout writer
// when writer is nil.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}
	return &auditLogger{
		events:    make([]*AuditEvent, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// LogOperation records one relay verb's outcome.
func (l *auditLogger) LogOperation(eventType EventType, fileID, rootID, clientIP, userAgent, requestID string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		FileID:    fileID,
		RootID:    rootID,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		RequestID: requestID,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter writes events to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
