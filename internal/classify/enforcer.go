// Package classify applies data classification labels and sanitizes
// outbound records against a requester's clearance.
package classify

import (
	"context"
	"errors"

	"github.com/strukta/bastion/internal/audit"
	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/metrics"
)

// Redacted is the sentinel substituted for over-clearance field values.
const Redacted = "[REDACTED]"

var (
	// ErrWithheld is returned when a record's top-level label exceeds the
	// requester's clearance and the whole record must be withheld.
	ErrWithheld = errors.New("record withheld: classification exceeds clearance")
	// ErrAuthorityRequired is returned when classification changes lack
	// an explicit authority.
	ErrAuthorityRequired = errors.New("classification change requires an authority")
	// ErrLabelDowngrade is returned when Classify would lower a label.
	// Lowering goes through Declassify so it is always audited as such.
	ErrLabelDowngrade = errors.New("label can only be lowered through declassification")
)

// Field is a single value with its own classification label.
type Field struct {
	Value string `json:"value"`
	Label Label  `json:"label"`
}

// Record is a classified data record: a top-level label plus
// independently labeled fields.
type Record struct {
	ID     string           `json:"id"`
	Label  Label            `json:"label"`
	Fields map[string]Field `json:"fields"`
}

// clone copies a record so sanitization never mutates the original.
func (r Record) clone() Record {
	fields := make(map[string]Field, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Label: r.Label, Fields: fields}
}

// Enforcer sanitizes records and audits classification changes.
type Enforcer struct {
	trail *audit.Manager
	log   logger.Logger
}

// NewEnforcer creates a classification enforcer.
func NewEnforcer(trail *audit.Manager, log logger.Logger) *Enforcer {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Enforcer{trail: trail, log: log}
}

// Sanitize returns a copy of the record safe for the given clearance.
// Fields labeled strictly above the clearance are replaced with the
// redaction sentinel; a record whose top-level label exceeds clearance
// is withheld entirely.
func (e *Enforcer) Sanitize(rec Record, clearance Label) (Record, error) {
	if rec.Label > clearance {
		metrics.RecordsSanitizedTotal.WithLabelValues("withheld").Inc()
		return Record{}, ErrWithheld
	}

	out := rec.clone()
	redacted := false
	for name, field := range out.Fields {
		if field.Label > clearance {
			out.Fields[name] = Field{Value: Redacted, Label: field.Label}
			redacted = true
		}
	}

	outcome := "clean"
	if redacted {
		outcome = "redacted"
	}
	metrics.RecordsSanitizedTotal.WithLabelValues(outcome).Inc()
	return out, nil
}

// Classify stamps a label onto the record and audits who classified
// what. Labels never decrease here; use Declassify to lower one.
func (e *Enforcer) Classify(ctx context.Context, rec *Record, label Label, authority string) error {
	if authority == "" {
		return ErrAuthorityRequired
	}
	if label < rec.Label {
		return ErrLabelDowngrade
	}

	previous := rec.Label
	rec.Label = label

	e.record(ctx, audit.EventClassified, rec.ID, authority, map[string]string{
		audit.CtxKeyLabel: label.String(),
		"previous_label":  previous.String(),
	})
	return nil
}

// Declassify lowers a record's label. It requires an explicit authority
// and always emits an audit event; this operation is never silent.
func (e *Enforcer) Declassify(ctx context.Context, rec *Record, label Label, authority string) error {
	if authority == "" {
		return ErrAuthorityRequired
	}

	previous := rec.Label
	rec.Label = label
	for name, field := range rec.Fields {
		if field.Label > label {
			field.Label = label
			rec.Fields[name] = field
		}
	}

	e.record(ctx, audit.EventDeclassified, rec.ID, authority, map[string]string{
		audit.CtxKeyLabel: label.String(),
		"previous_label":  previous.String(),
	})
	return nil
}

func (e *Enforcer) record(ctx context.Context, eventType audit.EventType, resource, authority string, extra map[string]string) {
	if e.trail == nil {
		return
	}
	extra[audit.CtxKeyAuthority] = authority
	if _, err := e.trail.Record(ctx, &audit.Event{
		Type:     eventType,
		ActorID:  authority,
		Resource: resource,
		Result:   audit.ResultSuccess,
		Severity: audit.SeverityWarning,
		Context:  extra,
	}); err != nil {
		e.log.Error("failed to record classification event",
			logger.String("resource", resource),
			logger.Error(err))
	}
}
