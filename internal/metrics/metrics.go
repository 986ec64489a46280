// Package metrics exposes the control plane's Prometheus gauges and
// counters: fleet-wide scalars plus matchmaking and reclamation counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fleet-wide gauges.
	FleetHostCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_fleet_host_count",
			Help: "Number of hosts currently in the registry by status",
		},
		[]string{"status"},
	)

	FleetServerCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_fleet_server_count",
			Help: "Total number of servers across all hosts",
		},
	)

	FleetPlayerCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_fleet_player_count",
			Help: "Total number of players across all servers",
		},
	)

	PendingSaveCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_pending_save_count",
			Help: "Number of in-flight player-data writes tracked by the save barrier",
		},
	)

	// Matchmaking counters, one increment per decision step taken.
	MatchmakerDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_matchmaker_decisions_total",
			Help: "Matchmaker requests resolved, by decision step",
		},
		[]string{"step"}, // private_binding, public_fit, spawn_master, spawn_remote, provision
	)

	MatchmakerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_matchmaker_errors_total",
			Help: "Matchmaker requests that failed, by error kind",
		},
		[]string{"kind"},
	)

	// Provisioning counters.
	HostsProvisionedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_hosts_provisioned_total",
			Help: "Total number of hosts successfully provisioned via the Cloud Provisioner",
		},
	)

	HostsReapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_hosts_reaped_total",
			Help: "Total number of hosts removed by the lifecycle monitor, by reason",
		},
		[]string{"reason"}, // stale, idle
	)

	ServersReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_servers_reaped_total",
			Help: "Total number of servers removed by the master-server monitor",
		},
	)

	// HTTP Front Adapter counters.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_api_requests_total",
			Help: "Total HTTP requests handled by the front adapter",
		},
		[]string{"route", "status"},
	)

	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_rate_limit_rejections_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)
)
