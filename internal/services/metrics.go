package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the bot
type Metrics struct {
	// Tracker metrics
	Transitions    *prometheus.CounterVec
	SessionsActive prometheus.Gauge

	// Reminder metrics
	RemindersScheduled prometheus.Counter
	RemindersDelivered *prometheus.CounterVec

	// Activity log metrics
	ActivityWrites *prometheus.CounterVec

	// Telegram metrics
	TelegramRequests *prometheus.CounterVec
}

// NewMetrics registers the bot metrics with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Transitions by action and outcome (ok, rejected, recovered)
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftbot_transitions_total",
			Help: "Total number of tracker actions by outcome",
		}, []string{"action", "outcome"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shiftbot_sessions_active",
			Help: "Number of sessions currently held in memory",
		}),

		RemindersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "shiftbot_reminders_scheduled_total",
			Help: "Total number of break reminders armed",
		}),

		// result: sent, failed, stale
		RemindersDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftbot_reminders_fired_total",
			Help: "Total number of reminder firings by result",
		}, []string{"result"}),

		ActivityWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftbot_activity_writes_total",
			Help: "Total number of activity log writes by sink and result",
		}, []string{"sink", "result"}),

		TelegramRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftbot_telegram_requests_total",
			Help: "Total number of Telegram Bot API calls by method and result",
		}, []string{"method", "result"}),
	}
}

func (m *Metrics) transition(action, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) sessions(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

func (m *Metrics) reminderScheduled() {
	if m == nil {
		return
	}
	m.RemindersScheduled.Inc()
}

func (m *Metrics) reminderFired(result string) {
	if m == nil {
		return
	}
	m.RemindersDelivered.WithLabelValues(result).Inc()
}

func (m *Metrics) activityWrite(sink string, err error) {
	if m == nil {
		return
	}
	m.ActivityWrites.WithLabelValues(sink, resultLabel(err)).Inc()
}

func (m *Metrics) telegramCall(method string, err error) {
	if m == nil {
		return
	}
	m.TelegramRequests.WithLabelValues(method, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
