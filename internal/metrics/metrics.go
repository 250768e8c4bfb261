// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the streamwatch client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No cardinality explosion: session_id/video_id never appear in labels.
var (
	// SnapshotsSentTotal counts outbound state snapshots by trigger
	// (interval, pause, seek, switch).
	SnapshotsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwatch_snapshots_sent_total",
		Help: "Total number of playback state snapshots sent, by trigger.",
	}, []string{"trigger"})

	// SnapshotSendFailures counts snapshot sends that failed on the channel.
	SnapshotSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_snapshot_send_failures_total",
		Help: "Total number of snapshot sends that failed.",
	})

	// ActiveSessions tracks currently open watch sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamwatch_active_sessions",
		Help: "Current number of open watch sessions.",
	})

	// SessionReconnectsTotal counts control-channel reconnect attempts by outcome.
	SessionReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwatch_session_reconnects_total",
		Help: "Total number of control-channel reconnects, by outcome.",
	}, []string{"outcome"})

	// TrackResolutionMissTotal counts catalog lookups that fell back to
	// auto/default, by selection kind (quality, audio, subtitle).
	TrackResolutionMissTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwatch_track_resolution_miss_total",
		Help: "Total number of track selections not found in the catalog, by kind.",
	}, []string{"kind"})

	// DownloadBytesTotal counts bytes received across all download jobs.
	DownloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_download_bytes_total",
		Help: "Total number of bytes received by download jobs.",
	})

	// DownloadsTotal counts finished download jobs by outcome
	// (completed, failed, canceled).
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamwatch_downloads_total",
		Help: "Total number of finished download jobs, by outcome.",
	}, []string{"outcome"})
)
