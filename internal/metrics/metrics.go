package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Token metrics
	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_tokens_issued_total",
			Help: "Total number of tokens issued",
		},
		[]string{"kind"},
	)

	TokensRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_tokens_revoked_total",
			Help: "Total number of tokens revoked",
		},
	)

	TokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_token_verifications_total",
			Help: "Total number of token verifications",
		},
		[]string{"result"},
	)

	RevocationListSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_revocation_list_size",
			Help: "Number of live entries in the revocation list",
		},
	)

	// Authorization metrics
	PermissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"role", "result"},
	)

	// Audit metrics
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_audit_events_total",
			Help: "Total number of audit events by delivery status",
		},
		[]string{"sink", "status"},
	)

	AuditEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_audit_events_dropped_total",
			Help: "Total number of audit events dropped",
		},
		[]string{"sink", "reason"},
	)

	AuditFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_audit_flush_duration_seconds",
			Help:    "Audit writer flush latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	AuditDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_audit_degraded",
			Help: "1 while the audit trail is buffering in degraded mode",
		},
	)

	// Threat detection metrics
	ThreatsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_threats_detected_total",
			Help: "Total number of threat indicators emitted",
		},
		[]string{"indicator_type"},
	)

	ActiveIndicators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_active_threat_indicators",
			Help: "Number of currently active threat indicators",
		},
	)

	// Compliance metrics
	ComplianceViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_compliance_violations_total",
			Help: "Total number of compliance violations reported",
		},
		[]string{"rule", "severity"},
	)

	// Classification metrics
	RecordsSanitizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_records_sanitized_total",
			Help: "Total number of records passed through the sanitizer",
		},
		[]string{"outcome"},
	)

	// Rate limiting metrics
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_rate_limit_rejections_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"class"},
	)

	// Build info
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)
