package realtime

import "github.com/homecart/listsync/internal/platform/metrics"

var (
	hubsActive = metrics.NewGauge(metrics.Opts{
		Name: "listsync_hubs_active",
		Help: "Lists with at least one open stream.",
	})

	subscribersActive = metrics.NewGauge(metrics.Opts{
		Name: "listsync_subscribers_active",
		Help: "Open list streams across all hubs.",
	})

	framesDelivered = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_frames_delivered_total",
		Help: "Frames queued onto list streams, by kind.",
	}, []string{"kind"})

	subscribersDropped = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_subscribers_dropped_total",
		Help: "Streams removed by the hub rather than by the client.",
	}, []string{"reason"})
)

func init() {
	metrics.Default.MustRegister(hubsActive, subscribersActive, framesDelivered, subscribersDropped)
}
