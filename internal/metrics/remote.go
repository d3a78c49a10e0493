package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		remoteCalls,
		notifyDeliveries,
		notifySessions,
	)
}

var (
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genjob_remote_calls_total",
			Help: "Generation calls per provider/model/success.",
		},
		[]string{"provider", "model", "success"},
	)

	notifyDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genjob_notify_deliveries_total",
			Help: "Push notifications per message type/result (sent/dropped).",
		},
		[]string{"type", "result"},
	)

	notifySessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genjob_notify_sessions",
			Help: "Open notification channels.",
		},
	)
)

func IncRemoteCall(provider, model string, success bool) {
	remoteCalls.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).Inc()
}

func IncNotifyDelivery(msgType, result string) {
	notifyDeliveries.WithLabelValues(norm(msgType), norm(result)).Inc()
}

func SetNotifySessions(n int) {
	notifySessions.Set(float64(n))
}
