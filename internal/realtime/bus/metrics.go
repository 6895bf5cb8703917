package bus

import "github.com/homecart/listsync/internal/platform/metrics"

var (
	relayMessages = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_relay_messages_total",
		Help: "List events published to or received from the relay.",
	}, []string{"direction"})

	relayErrors = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_relay_errors_total",
		Help: "Relay failures by stage.",
	}, []string{"stage"})
)

func init() {
	metrics.Default.MustRegister(relayMessages, relayErrors)
}
