package craftcord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "craftcord"

// gameMetrics holds the prometheus collectors for gameplay and the API.
// Each CraftCord instance registers them on its own registry.
type gameMetrics struct {
	registry *prometheus.Registry

	Commands        *prometheus.CounterVec // by command and outcome
	CommandDuration *prometheus.HistogramVec
	Gathers         *prometheus.CounterVec // by action and tool tier
	Spawns          prometheus.Counter
	Catches         *prometheus.CounterVec // by rarity
	Escapes         prometheus.Counter
	Sacrifices      *prometheus.CounterVec // by reason
	ExperienceTotal prometheus.Counter
	LevelUps        prometheus.Counter
	ActiveSpawns    prometheus.Gauge
	TasksRunning    *prometheus.GaugeVec // by duty
	TaskRestarts    *prometheus.CounterVec
	StrongholdRuns  *prometheus.CounterVec // by outcome
	HTTPRequests    *prometheus.CounterVec // by method, route and status
}

func newGameMetrics() *gameMetrics {
	m := &gameMetrics{
		registry: prometheus.NewRegistry(),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_total",
				Help:      "Chat commands handled",
			},
			[]string{"command", "outcome"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "command_duration_seconds",
				Help:      "Time spent handling a chat command",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		Gathers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gathers_total",
				Help:      "Chop, mine, farm and fish actions",
			},
			[]string{"action", "tier"},
		),
		Spawns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "spawns_total",
				Help:      "Creatures spawned",
			},
		),
		Catches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "catches_total",
				Help:      "Spawned creatures caught",
			},
			[]string{"rarity"},
		),
		Escapes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "escapes_total",
				Help:      "Spawned creatures that expired uncaught",
			},
		),
		Sacrifices: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sacrifices_total",
				Help:      "Creatures sacrificed",
			},
			[]string{"reason"},
		),
		ExperienceTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "experience_granted_total",
				Help:      "Experience points granted",
			},
		),
		LevelUps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "level_ups_total",
				Help:      "Player level increases",
			},
		),
		ActiveSpawns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_spawns",
				Help:      "Spawns awaiting a catch or expiry",
			},
		),
		TasksRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_running",
				Help:      "Supervised background tasks running",
			},
			[]string{"duty"},
		),
		TaskRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "task_restarts_total",
				Help:      "Background tasks restarted after an error or panic",
			},
			[]string{"duty"},
		),
		StrongholdRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stronghold_runs_total",
				Help:      "Finished stronghold runs",
			},
			[]string{"outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Commands,
		m.CommandDuration,
		m.Gathers,
		m.Spawns,
		m.Catches,
		m.Escapes,
		m.Sacrifices,
		m.ExperienceTotal,
		m.LevelUps,
		m.ActiveSpawns,
		m.TasksRunning,
		m.TaskRestarts,
		m.StrongholdRuns,
		m.HTTPRequests,
	)
	return m
}
