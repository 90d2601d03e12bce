package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWriter is a thread-safe mock writer.
type mockWriter struct {
	mu     sync.Mutex
	events []*AuditEvent
}

func (w *mockWriter) WriteEvent(event *AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *mockWriter) WriteBatch(events []*AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, events...)
	return nil
}

func TestBatchSink(t *testing.T) {
	mock := &mockWriter{}
	sink := NewBatchSink(mock, 5, 100*time.Millisecond, 0, 0)

	for i := 0; i < 3; i++ {
		sink.WriteEvent(&AuditEvent{EventType: EventType(fmt.Sprintf("op-%d", i))})
	}

	time.Sleep(10 * time.Millisecond)
	mock.mu.Lock()
	assert.Len(t, mock.events, 0)
	mock.mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	mock.mu.Lock()
	assert.Len(t, mock.events, 3)
	mock.mu.Unlock()

	for i := 0; i < 5; i++ {
		sink.WriteEvent(&AuditEvent{EventType: EventType(fmt.Sprintf("op-batch-%d", i))})
	}

	time.Sleep(50 * time.Millisecond)
	mock.mu.Lock()
	assert.Len(t, mock.events, 8)
	mock.mu.Unlock()

	sink.Close()
}

func TestHTTPSink(t *testing.T) {
	var capturedEvents []*AuditEvent
	var mu sync.Mutex

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		r.Body.Close()

		var events []*AuditEvent
		if err := json.Unmarshal(body, &events); err != nil {
			var event AuditEvent
			if err2 := json.Unmarshal(body, &event); err2 == nil {
				events = []*AuditEvent{&event}
			} else {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		capturedEvents = append(capturedEvents, events...)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewHTTPSink(ts.URL, map[string]string{"X-Test": "true"})

	event := &AuditEvent{EventType: EventDownload}
	err := sink.WriteEvent(event)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, capturedEvents, 1)
	assert.Equal(t, EventDownload, capturedEvents[0].EventType)
	mu.Unlock()
}

func TestFileSink(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "audit-log-*.json")
	require.NoError(t, err)
	path := tmpfile.Name()
	tmpfile.Close()
	defer os.Remove(path)

	sink := NewFileSink(path)
	event := &AuditEvent{EventType: EventUploadNew}
	err = sink.WriteEvent(event)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var loadedEvent AuditEvent
	err = json.Unmarshal(content, &loadedEvent)
	require.NoError(t, err)
	assert.Equal(t, EventUploadNew, loadedEvent.EventType)
}

func TestLoggerRecordsAndTrimsEvents(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(2, mock)

	logger.LogOperation(EventUploadNew, "", "root1", "1.2.3.4", "curl/8", "req-1", true, nil, 5*time.Millisecond)
	logger.LogOperation(EventUploadPush, "", "root1", "1.2.3.4", "curl/8", "req-2", true, nil, 5*time.Millisecond)
	logger.LogOperation(EventUploadFinish, "", "root1", "1.2.3.4", "curl/8", "req-3", true, nil, 5*time.Millisecond)

	events := logger.GetEvents()
	if len(events) != 2 {
		t.Fatalf("GetEvents() len = %d, want 2 (maxEvents truncation)", len(events))
	}
	if events[len(events)-1].EventType != EventUploadFinish {
		t.Errorf("most recent event = %v, want %v", events[len(events)-1].EventType, EventUploadFinish)
	}
}
