package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cliproom/cliproom/pkg/metrics"
)

// RegisterStateGauges exposes the live counts of the three stateful
// services as gauges sampled at scrape time. Callbacks must be safe for
// concurrent use. No-op when metrics are disabled.
func RegisterStateGauges(rooms, files, shares func() int) {
	if !metrics.IsEnabled() {
		return
	}

	reg := metrics.GetRegistry()

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cliproom_rooms_active",
		Help: "Current number of live rooms",
	}, func() float64 { return float64(rooms()) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cliproom_files_stored",
		Help: "Current number of stored files",
	}, func() float64 { return float64(files()) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cliproom_shares_live",
		Help: "Current number of share records",
	}, func() float64 { return float64(shares()) })
}
