package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthorizationsIssued counts issued authorizations by service type.
	AuthorizationsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_authorizations_issued_total",
			Help: "Total number of visitor authorizations issued",
		},
		[]string{"service_type"},
	)

	// AuthorizationsRevoked counts successful revocations.
	AuthorizationsRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_authorizations_revoked_total",
			Help: "Total number of visitor authorizations revoked",
		},
	)

	// Validations counts validation attempts by outcome (VALID|INVALID|EXPIRED|REVOKED|error).
	Validations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_access_validations_total",
			Help: "Total number of credential validations",
		},
		[]string{"result"},
	)

	// KeysProvisioned counts signing keys generated, one per tenant under normal operation.
	KeysProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_signing_keys_provisioned_total",
			Help: "Total number of tenant signing keys generated",
		},
	)

	// EventsSynced counts access events ingested from offline devices.
	EventsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_access_events_synced_total",
			Help: "Total number of offline access events synchronized",
		},
	)

	// NotificationFailures counts best-effort notifications that could not be delivered.
	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_notification_failures_total",
			Help: "Total number of failed visitor notifications",
		},
		[]string{"channel"},
	)

	// ActiveAuthorizations is refreshed by the maintenance scheduler.
	ActiveAuthorizations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_active_authorizations",
			Help: "Number of authorizations that are ACTIVE and not past valid_to",
		},
	)

	// ActiveSigningKeys is refreshed by the maintenance scheduler.
	ActiveSigningKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_active_signing_keys",
			Help: "Number of ACTIVE tenant signing keys",
		},
	)

	// RoleChecks counts role gate evaluations (allow|deny).
	RoleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_role_checks_total",
			Help: "Total number of role checks",
		},
		[]string{"role", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
