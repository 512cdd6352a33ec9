package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idscan_scan_cycles_total",
			Help: "Total number of scan cycles by outcome",
		},
		[]string{"outcome"}, // absent, no_match, match, recognition_failed, bad_geometry, source_failed, discarded
	)

	ticksDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idscan_scan_ticks_dropped_total",
			Help: "Ticks skipped because a cycle was still in flight",
		},
	)

	ocrDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idscan_ocr_duration_seconds",
			Help:    "Time spent in text recognition per cycle",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		},
	)

	outlierRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idscan_presence_outlier_ratio",
			Help:    "Share of sampled pixels outside the contrast band",
			Buckets: []float64{0, .01, .02, .05, .1, .25, .5, .75, 1},
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idscan_scan_sessions_active",
			Help: "Number of sessions with a live source",
		},
	)

	recordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idscan_records_extracted_total",
			Help: "Terminal records by identity number format",
		},
		[]string{"format"},
	)
)
