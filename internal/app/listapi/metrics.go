package listapi

import "github.com/homecart/listsync/internal/platform/metrics"

var (
	requestDuration = metrics.NewHistogramVec(metrics.Opts{
		Name: "listsync_http_request_duration_seconds",
		Help: "Latency of list API requests, excluding event streams.",
	}, metrics.DefaultBuckets, []string{"method", "route"})

	commandsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_commands_total",
		Help: "Item commands handled, by outcome.",
	}, []string{"outcome"})

	eventsNotified = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_events_notified_total",
		Help: "Domain events handed to the notifier, by wire kind.",
	}, []string{"kind"})
)

func init() {
	metrics.Default.MustRegister(requestDuration, commandsTotal, eventsNotified)
}
