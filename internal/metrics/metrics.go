// Package metrics holds the engine's Prometheus instruments: one flat
// var block of counters/histograms/gauges registered at package-init
// time via promauto, the same layout the orchestrator uses for its own
// metrics, mapped onto the policy engine's operations instead of
// workflow/agent execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Policy Manager metrics
	PolicyFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_policy_fetches_total",
			Help: "Total number of remote policy fetches, by outcome",
		},
		[]string{"outcome"}, // hit/miss/error
	)

	PolicyFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policy_engine_policy_fetch_duration_seconds",
			Help:    "Remote policy fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"}, // fetchPolicy/fetchPolicyForDevice/fetchAssignedDevices
	)

	PolicyChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_policy_change_events_total",
			Help: "Total number of PolicyChanged items processed, by op",
		},
		[]string{"op"}, // changed/assigned/unassigned/unknown
	)

	PolicyUnassignRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_engine_policy_unassign_rejected_total",
			Help: "Total number of unassign items rejected because the cached policy was newer than the server's",
		},
	)

	DeviceBindingsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policy_engine_device_bindings_active",
			Help: "Current number of device-to-policy bindings held in memory",
		},
	)

	// Pipeline Runtime metrics
	AttributesOffered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_attributes_offered_total",
			Help: "Total number of attribute readings offered to a pipeline, by survival",
		},
		[]string{"result"}, // passed/filtered/buffered
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_alerts_emitted_total",
			Help: "Total number of alerts emitted, by severity",
		},
		[]string{"severity"},
	)

	ActionsInvoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_actions_invoked_total",
			Help: "Total number of actions invoked, by action name",
		},
		[]string{"action"},
	)

	ScheduledFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_scheduled_firings_total",
			Help: "Total number of scheduled-slide driver firings, by outcome",
		},
		[]string{"outcome"}, // committed/skipped
	)

	// Messaging Adapter metrics
	MessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_messages_produced_total",
			Help: "Total number of outbound messages produced by applyPolicies, by kind",
		},
		[]string{"kind"}, // DATA/ALERT/OTHER
	)

	SeverityOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_engine_severity_overrides_total",
			Help: "Total number of alerts that bypassed the all-attributes batcher via the severity override",
		},
	)

	// Audit trail metrics
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_audit_writes_total",
			Help: "Total number of audit trail writes, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: alert/action, outcome: ok/error
	)

	// Staleness cache metrics
	StalenessCacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_engine_staleness_cache_ops_total",
			Help: "Total number of staleness cache operations, by op and outcome",
		},
		[]string{"op", "outcome"}, // op: get/set, outcome: hit/miss/error
	)
)
