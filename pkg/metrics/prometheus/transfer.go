package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cliproom/cliproom/pkg/metrics"
)

// transferMetrics is the Prometheus implementation of TransferMetrics.
type transferMetrics struct {
	uploads       prometheus.Counter
	uploadBytes   prometheus.Counter
	downloads     prometheus.Counter
	downloadBytes prometheus.Counter
	shareAccesses *prometheus.CounterVec
}

// NewTransferMetrics creates the file/share pipeline metrics set.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTransferMetrics() *transferMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &transferMetrics{
		uploads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cliproom_file_uploads_total",
			Help: "Total number of completed file uploads",
		}),
		uploadBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cliproom_file_upload_bytes_total",
			Help: "Total bytes received through file uploads",
		}),
		downloads: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cliproom_file_downloads_total",
			Help: "Total number of file downloads",
		}),
		downloadBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cliproom_file_download_bytes_total",
			Help: "Total bytes sent through file downloads",
		}),
		shareAccesses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cliproom_share_accesses_total",
			Help: "Total share-link access attempts by outcome",
		}, []string{"outcome"}),
	}
}

func (m *transferMetrics) RecordUpload(bytes int64) {
	if m == nil {
		return
	}
	m.uploads.Inc()
	m.uploadBytes.Add(float64(bytes))
}

func (m *transferMetrics) RecordDownload(bytes int64) {
	if m == nil {
		return
	}
	m.downloads.Inc()
	m.downloadBytes.Add(float64(bytes))
}

func (m *transferMetrics) RecordShareAccess(outcome string) {
	if m == nil {
		return
	}
	m.shareAccesses.WithLabelValues(outcome).Inc()
}
