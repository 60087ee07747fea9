package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_messages_sent_total",
	Help: "Persisted messages by conversation scope and type",
}, []string{"scope", "type"})

var notifyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_notify_failures_total",
	Help: "Real-time notifications that could not be published",
})

var mirrorEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_mirror_enqueue_failures_total",
	Help: "Text messages that could not be queued for the ledger mirror",
})

var mirrorDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_mirror_deliveries_total",
	Help: "Ledger mirror delivery attempts by outcome",
}, []string{"outcome"})

var groupsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chat_groups_created_total",
	Help: "Number of groups created",
})
