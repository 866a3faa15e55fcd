package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks one invocation of the remediation pipeline.
type Metrics struct {
	// Lookup metrics
	LookupsTotal   prometheus.Counter
	LookupFailures prometheus.Counter
	RecordsFound   prometheus.Counter

	// Eligibility metrics
	SkippedTotal  *prometheus.CounterVec
	ApprovedTotal prometheus.Counter

	// Remediation metrics
	FilesScheduled  prometheus.Counter
	FilesInFlight   prometheus.Gauge
	OutcomesTotal   *prometheus.CounterVec
	BytesDownloaded prometheus.Counter
	BytesUploaded   prometheus.Counter
	FileDuration    prometheus.Histogram
	BackupFolders   prometheus.Counter
}

// New creates and registers the pipeline metrics. A nil registry registers
// with prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		LookupsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_lookups_total",
			Help: "Filename lookups issued against remote storage",
		}),
		LookupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_lookup_failures_total",
			Help: "Filename lookups that returned an error",
		}),
		RecordsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_records_found_total",
			Help: "Remote records returned by lookups",
		}),

		SkippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drivebyfix_skipped_total",
			Help: "Filenames or records excluded from remediation, by reason",
		}, []string{"reason"}),
		ApprovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_approved_total",
			Help: "Records approved for remediation",
		}),

		FilesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_files_scheduled_total",
			Help: "Files submitted to the remediation scheduler",
		}),
		FilesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "drivebyfix_files_in_flight",
			Help: "File procedures currently running",
		}),
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drivebyfix_outcomes_total",
			Help: "Terminal remediation outcomes by kind and failure class",
		}, []string{"outcome", "class"}),
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_bytes_downloaded_total",
			Help: "Bytes downloaded for checksum verification",
		}),
		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_bytes_uploaded_total",
			Help: "Bytes re-uploaded to repair files",
		}),
		FileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "drivebyfix_file_duration_seconds",
			Help:    "Wall time of one file procedure",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		BackupFolders: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivebyfix_backup_folders_created_total",
			Help: "Backup folders created",
		}),
	}
}

// ObserveOutcome records a terminal outcome. Safe on a nil receiver.
func (m *Metrics) ObserveOutcome(outcome, class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(outcome, class).Inc()
	m.FileDuration.Observe(elapsed.Seconds())
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for pickup by a node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
