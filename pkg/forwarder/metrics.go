package forwarder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsource_forwarded_messages_total",
			Help: "Total number of log records forwarded to the sink",
		},
		[]string{"application", "message_type"},
	)

	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsource_sink_errors_total",
			Help: "Total number of messages the sink failed to accept",
		},
		[]string{"application"},
	)

	StreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsource_stream_errors_total",
			Help: "Total number of failures reported by log stream clients",
		},
		[]string{"application"},
	)

	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logsource_stream_completions_total",
			Help: "Total number of completion signals received from log stream clients",
		},
		[]string{"application"},
	)
)
