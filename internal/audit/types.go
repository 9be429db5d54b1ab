package audit

import "time"

// EventType identifies what kind of action an event records.
type EventType string

const (
	EventLoginSuccess     EventType = "auth.login.success"
	EventLoginFailure     EventType = "auth.login.failure"
	EventLogout           EventType = "auth.logout"
	EventTokenIssued      EventType = "token.issued"
	EventTokenRefreshed   EventType = "token.refreshed"
	EventTokenRevoked     EventType = "token.revoked"
	EventAccessGranted    EventType = "authz.granted"
	EventAccessDenied     EventType = "authz.denied"
	EventDataRead         EventType = "data.read"
	EventDataWrite        EventType = "data.write"
	EventDataDelete       EventType = "data.delete"
	EventDataExport       EventType = "data.export"
	EventFileUpload       EventType = "file.upload"
	EventFileDownload     EventType = "file.download"
	EventClassified       EventType = "classify.applied"
	EventDeclassified     EventType = "classify.declassified"
	EventThreatDetected   EventType = "threat.detected"
	EventThreatBlocked    EventType = "threat.blocked"
	EventComplianceIssue  EventType = "compliance.violation"
	EventConfigChanged    EventType = "config.changed"
	EventAuditDegraded    EventType = "audit.degraded"
)

// Severity grades an event's operational weight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Result is the outcome of the recorded action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Event captures a single auditable action. Events are immutable once
// recorded and are persisted append-only, one JSON record per line.
type Event struct {
	ID        string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	ActorID   string            `json:"actor_id,omitempty"`
	SourceIP  string            `json:"source_ip,omitempty"`
	Resource  string            `json:"resource,omitempty"`
	Action    string            `json:"action,omitempty"`
	Result    Result            `json:"result"`
	Severity  Severity          `json:"severity"`
	Context   map[string]string `json:"context,omitempty"`
}

// Well-known context keys. Context remains open for free-form extension
// fields; these are the ones queries and dashboards rely on.
const (
	CtxKeyUserAgent  = "user_agent"
	CtxKeyTokenID    = "token_id"
	CtxKeyPermission = "permission"
	CtxKeyLabel      = "label"
	CtxKeyAuthority  = "authority"
	CtxKeyIndicator  = "indicator"
	CtxKeyDropped    = "dropped_events"
	CtxKeyReason     = "reason"
)

// Filter selects events from the index.
type Filter struct {
	From    time.Time
	To      time.Time
	ActorID string
	Type    EventType
	Limit   int
}
