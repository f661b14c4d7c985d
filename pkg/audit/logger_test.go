package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/platinummonkey/tourdesk/pkg/contextkeys"
	"github.com/platinummonkey/tourdesk/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
	closed bool
}

func (r *recordingLogger) Log(ctx context.Context, event *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return nil
}

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-7")
	event := NewEvent(ctx, EventTypeRoleAssign, EventStatusSuccess)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "req-7", event.RequestID)
	assert.Equal(t, EventTypeRoleAssign, event.EventType)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStructuredLogger(observability.NewLogger(observability.InfoLevel, &buf))

	tour := "T1"
	event := NewEvent(context.Background(), EventTypeRoleAssign, EventStatusSuccess)
	event.ActorID = "admin-1"
	event.SubjectID = "u-2"
	event.ResourceType = ResourceTypeRole
	event.ResourceID = "3"
	event.ResourceName = "crew_member"
	event.ScopeTourID = &tour
	event.Metadata["idempotent"] = true

	require.NoError(t, sink.Log(context.Background(), event))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "rbac.role_assign", entry["event_type"])
	assert.Equal(t, "admin-1", entry["actor_id"])
	assert.Equal(t, "u-2", entry["subject_id"])
	assert.Equal(t, "T1", entry["scope_tour_id"])
	assert.Equal(t, true, entry["meta_idempotent"])
	assert.Equal(t, true, entry["audit"])
}

func TestStructuredLogger_DeniedAtWarn(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStructuredLogger(observability.NewLogger(observability.InfoLevel, &buf))

	event := NewEvent(context.Background(), EventTypeAuthzAccessDenied, EventStatusDenied)
	event.Message = "delegation refused"
	require.NoError(t, sink.Log(context.Background(), event))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "delegation refused", entry["msg"])
}

func TestMultiLogger_Sync(t *testing.T) {
	ok := &recordingLogger{}
	failing := &recordingLogger{err: errors.New("sink down")}
	m := NewMultiLogger(failing, ok)

	err := m.Log(context.Background(), NewEvent(context.Background(), EventTypeRoleCreate, EventStatusSuccess))

	assert.EqualError(t, err, "sink down")
	assert.Len(t, ok.events, 1, "later sinks still receive the event")
	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestMultiLogger_Async(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{err: errors.New("b failed")}
	m := NewMultiLogger(a, b)
	m.SetAsync(true)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Log(context.Background(), NewEvent(context.Background(), EventTypeRoleRevoke, EventStatusSuccess)))
	}
	m.Wait()

	assert.Len(t, a.events, 5)
	assert.Len(t, m.Errors(), 5)
	assert.Empty(t, m.Errors())
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	assert.NoError(t, l.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, l.Close())
}
