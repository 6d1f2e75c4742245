// Package metrics exposes the bot's Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harun/groupbot/pkg/agent"
	"github.com/harun/groupbot/pkg/router"
	"github.com/harun/groupbot/pkg/tools"
)

const namespace = "groupbot"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceivedTotal prometheus.Counter
	GateDecisionsTotal    *prometheus.CounterVec

	AgentRunsTotal      *prometheus.CounterVec
	AgentAttemptsTotal  *prometheus.CounterVec
	AgentRunDuration    *prometheus.HistogramVec
	ToolExecutionsTotal *prometheus.CounterVec
	ToolDuration        *prometheus.HistogramVec
	ProviderCooldown    *prometheus.GaugeVec

	RepliesSentTotal    prometheus.Counter
	TelegramErrorsTotal prometheus.Counter
	GroupsActive        prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		MessagesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Text messages received from Telegram",
		}),
		GateDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Response gate decisions",
		}, []string{"decision"}),

		AgentRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Executor runs by route and final status",
		}, []string{"route", "status"}),
		AgentAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_attempts_total",
			Help:      "Executor attempts by route and outcome",
		}, []string{"route", "status"}),
		AgentRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Duration of executor runs in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"route"}),
		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and status",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ProviderCooldown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_cooldown_seconds",
			Help:      "Remaining cooldown of an LLM auth profile",
		}, []string{"profile"}),

		RepliesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Replies delivered to Telegram",
		}),
		TelegramErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_errors_total",
			Help:      "Failed Telegram API calls",
		}),
		GroupsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups_active",
			Help:      "Groups with a memory session",
		}),
	}

	registry.MustRegister(
		m.MessagesReceivedTotal,
		m.GateDecisionsTotal,
		m.AgentRunsTotal,
		m.AgentAttemptsTotal,
		m.AgentRunDuration,
		m.ToolExecutionsTotal,
		m.ToolDuration,
		m.ProviderCooldown,
		m.RepliesSentTotal,
		m.TelegramErrorsTotal,
		m.GroupsActive,
	)

	return m
}

// ObserveGate counts one gate decision.
func (m *Metrics) ObserveGate(respond bool) {
	decision := "skip"
	if respond {
		decision = "respond"
	}
	m.GateDecisionsTotal.WithLabelValues(decision).Inc()
}

// AgentHooks returns executor hooks that feed the agent metrics.
func (m *Metrics) AgentHooks() agent.Hooks {
	return agent.Hooks{
		OnAttempt: func(route router.Route, _ int, outcome agent.Outcome, _ time.Duration) {
			m.AgentAttemptsTotal.WithLabelValues(route.String(), outcome.Status.String()).Inc()
		},
		OnRun: func(result agent.RunResult, d time.Duration) {
			status := "success"
			if !result.Succeeded {
				status = "apology"
			}
			m.AgentRunsTotal.WithLabelValues(result.Route.String(), status).Inc()
			m.AgentRunDuration.WithLabelValues(result.Route.String()).Observe(d.Seconds())
		},
	}
}

// ObserveTool records one tool execution. It satisfies tools.Observer.
func (m *Metrics) ObserveTool(r tools.Result) {
	status := "success"
	if !r.Success {
		status = "error"
	}
	m.ToolExecutionsTotal.WithLabelValues(r.Tool, status).Inc()
	m.ToolDuration.WithLabelValues(r.Tool).Observe(r.Duration.Seconds())
}

// SetProviderCooldowns publishes remaining cooldowns; profiles no longer cooling read 0.
func (m *Metrics) SetProviderCooldowns(cooldowns map[string]time.Time, now time.Time) {
	m.ProviderCooldown.Reset()
	for id, until := range cooldowns {
		m.ProviderCooldown.WithLabelValues(id).Set(until.Sub(now).Seconds())
	}
}

// Handler returns the HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NewServeMux serves /metrics and a /healthz liveness probe.
func (m *Metrics) NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
