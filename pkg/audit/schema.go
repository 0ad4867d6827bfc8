// Package audit logs irreversible schema changes and rejected DDL literals
// as structured events on a dedicated "schema_audit" logger.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes audit events for filtering and alerting.
type EventType string

const (
	EventTableDropped      EventType = "table_dropped"
	EventFieldDropped      EventType = "field_dropped"
	EventFieldRenamed      EventType = "field_renamed"
	EventConstraintRemoved EventType = "constraint_removed"

	// EventLiteralRejected is logged when libinjection flags a value that
	// would have been rendered into DDL.
	EventLiteralRejected EventType = "literal_rejected"
)

// Event is one auditable schema change.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Table     string    `json:"table"`
	Field     string    `json:"field,omitempty"`
	Details   any       `json:"details,omitempty"`
	Severity  string    `json:"severity"` // info, warning
}

// RenameDetails records both names of a renamed field.
type RenameDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ConstraintDetails names the removed constraint.
type ConstraintDetails struct {
	Kind string `json:"kind"`
}

// RejectedLiteralDetails carries the libinjection fingerprint. The value itself is never logged.
type RejectedLiteralDetails struct {
	Fingerprint string `json:"fingerprint"`
}

// SchemaAuditor writes audit events.
type SchemaAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSchemaAuditor creates an auditor logging under the "schema_audit" namespace.
func NewSchemaAuditor(logger *zap.Logger) *SchemaAuditor {
	return &SchemaAuditor{
		logger: logger.Named("schema_audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *SchemaAuditor) TableDropped(table string) {
	a.log(Event{EventType: EventTableDropped, Table: table, Severity: "warning"})
}

func (a *SchemaAuditor) FieldDropped(table, field string) {
	a.log(Event{EventType: EventFieldDropped, Table: table, Field: field, Severity: "warning"})
}

func (a *SchemaAuditor) FieldRenamed(table, from, to string) {
	a.log(Event{
		EventType: EventFieldRenamed,
		Table:     table,
		Field:     to,
		Details:   RenameDetails{From: from, To: to},
		Severity:  "info",
	})
}

func (a *SchemaAuditor) ConstraintRemoved(table, field, kind string) {
	a.log(Event{
		EventType: EventConstraintRemoved,
		Table:     table,
		Field:     field,
		Details:   ConstraintDetails{Kind: kind},
		Severity:  "info",
	})
}

// LiteralRejected records a default value refused by the injection screen.
// table may be empty when the table is still being created.
func (a *SchemaAuditor) LiteralRejected(table, field, fingerprint string) {
	a.log(Event{
		EventType: EventLiteralRejected,
		Table:     table,
		Field:     field,
		Details:   RejectedLiteralDetails{Fingerprint: fingerprint},
		Severity:  "warning",
	})
}

func (a *SchemaAuditor) log(event Event) {
	event.Timestamp = a.now()

	// Marshaling these known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_type", string(event.EventType)),
		zap.String("table", event.Table),
		zap.String("severity", event.Severity),
		zap.String("event_json", string(eventJSON)),
	}
	if event.Field != "" {
		fields = append(fields, zap.String("field", event.Field))
	}

	if event.Severity == "warning" {
		a.logger.Warn("Schema audit event", fields...)
		return
	}
	a.logger.Info("Schema audit event", fields...)
}
