// Package metrics 定义服务暴露在 /metrics 上的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "promohub"

var (
	// ClaimsTotal 按结果统计领取请求：success / already_claimed / ledger_rejected / upstream_unavailable / rejected
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Promotion claim attempts by outcome.",
	}, []string{"outcome"})

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "assignments_total",
		Help:      "Player promotion assignments created, by trigger.",
	}, []string{"trigger"})

	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ledger_call_duration_seconds",
		Help:      "Latency of wallet ledger AddTransaction calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	ClaimIntentsUnresolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_intents_unresolved_total",
		Help:      "Stale pending claim intents that need manual reconciliation.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications persisted, by whether a live session existed.",
	}, []string{"delivered"})

	PushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_failures_total",
		Help:      "Pushes to a session that failed and evicted the session.",
	})

	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_sessions",
		Help:      "Websocket sessions currently registered on this node.",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kafka_messages_total",
		Help:      "Consumed kafka messages by topic and outcome.",
	}, []string{"topic", "outcome"})
)
