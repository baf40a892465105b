// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Hydrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rabbitt",
		Name:      "hydrations_total",
		Help:      "Hydration runs by outcome (committed, superseded).",
	}, []string{"outcome"})

	HydrationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rabbitt",
		Name:      "hydration_dataset_failures_total",
		Help:      "Failed dataset fetches during hydration.",
	}, []string{"dataset"})

	HydrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rabbitt",
		Name:      "hydration_duration_seconds",
		Help:      "Time from fan-out to settlement of all six requests.",
		Buckets:   prometheus.DefBuckets,
	})

	VoiceSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rabbitt",
		Name:      "voice_capture_sessions_total",
		Help:      "Capture sessions by final outcome.",
	}, []string{"outcome"})

	SpeechPlayback = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rabbitt",
		Name:      "speech_playback_total",
		Help:      "Speak requests by the path that handled them (remote, fallback, none, error).",
	}, []string{"path"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rabbitt",
		Name:      "dashboard_sessions_active",
		Help:      "Dashboard sessions currently held in memory.",
	})
)
