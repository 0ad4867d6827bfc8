package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAuditor() (*SchemaAuditor, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := NewSchemaAuditor(zap.New(core))
	a.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a, logs
}

func decodeEvent(t *testing.T, entry observer.LoggedEntry) Event {
	t.Helper()
	raw, ok := entry.ContextMap()["event_json"].(string)
	require.True(t, ok, "event_json field missing")
	var event Event
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	return event
}

func TestSchemaAuditor_Destructive(t *testing.T) {
	a, logs := newObservedAuditor()

	a.TableDropped("orders")
	a.FieldDropped("orders", "note")

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, zapcore.WarnLevel, e.Level)
		assert.Equal(t, "schema_audit", e.LoggerName)
	}

	dropped := decodeEvent(t, entries[0])
	assert.Equal(t, EventTableDropped, dropped.EventType)
	assert.Equal(t, "orders", dropped.Table)
	assert.Empty(t, dropped.Field)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), dropped.Timestamp)

	assert.Equal(t, "note", entries[1].ContextMap()["field"])
}

func TestSchemaAuditor_RenameAndConstraint(t *testing.T) {
	a, logs := newObservedAuditor()

	a.FieldRenamed("orders", "code", "reference")
	a.ConstraintRemoved("orders", "total", "required")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	raw := entries[0].ContextMap()["event_json"].(string)
	assert.Contains(t, raw, `"details":{"from":"code","to":"reference"}`)

	raw = entries[1].ContextMap()["event_json"].(string)
	assert.Contains(t, raw, `"details":{"kind":"required"}`)
}

func TestSchemaAuditor_LiteralRejectedOmitsValue(t *testing.T) {
	a, logs := newObservedAuditor()

	a.LiteralRejected("", "status", "s&1c")

	entries := logs.FilterField(zap.String("event_type", string(EventLiteralRejected))).All()
	require.Len(t, entries, 1)
	event := decodeEvent(t, entries[0])
	assert.Equal(t, "status", event.Field)
	assert.Equal(t, "warning", event.Severity)
	details, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s&1c", details["fingerprint"])
}
