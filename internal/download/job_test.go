// SPDX-License-Identifier: MIT

package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestFilename(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"plain", Request{Title: "Holiday Film", Quality: "1080p"}, "Holiday Film_1080p.mp4"},
		{"explicit extension", Request{Title: "Clip", Quality: "720p", Extension: "mkv"}, "Clip_720p.mkv"},
		{"separators sanitized", Request{Title: "a/b\\c:d", Quality: "480p"}, "a-b-c-d_480p.mp4"},
		{"empty title", Request{Quality: "720p"}, "video_720p.mp4"},
		{"whitespace title", Request{Title: "  ", Quality: "720p"}, "video_720p.mp4"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.req.Filename())
		})
	}
}

func TestStatusFinished(t *testing.T) {
	assert.False(t, StatusPending.Finished())
	assert.False(t, StatusActive.Finished())
	assert.True(t, StatusCompleted.Finished())
	assert.True(t, StatusFailed.Finished())
	assert.True(t, StatusCanceled.Finished())
}

func progressJob(start time.Time, now *time.Time) *Job {
	return &Job{
		ID:        "test",
		StartedAt: start,
		clock:     func() time.Time { return *now },
		done:      make(chan struct{}),
		status:    StatusActive,
		total:     -1,
	}
}

func TestProgressKnownTotal(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(10 * time.Second)
	job := progressJob(start, &now)
	job.setTotal(1000)
	job.addBytes(250)

	p := job.Progress()
	assert.False(t, p.Indeterminate())
	assert.Equal(t, int64(250), p.Downloaded)
	assert.Equal(t, int64(1000), p.Total)
	assert.InDelta(t, 25.0, p.Percent, 1e-9)
	assert.InDelta(t, 25.0, p.Speed, 1e-9) // 250 bytes over 10s
	assert.Equal(t, 30*time.Second, p.ETA) // 750 bytes at 25 B/s
	assert.Equal(t, 10*time.Second, p.Elapsed)
}

func TestProgressUnknownTotalIsIndeterminate(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(4 * time.Second)
	job := progressJob(start, &now)
	job.addBytes(4096)

	p := job.Progress()
	assert.True(t, p.Indeterminate())
	assert.Zero(t, p.Percent)
	assert.Zero(t, p.ETA)
	assert.InDelta(t, 1024.0, p.Speed, 1e-9)
}

func TestProgressZeroElapsed(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	job := progressJob(start, &now)
	job.addBytes(100)

	p := job.Progress()
	assert.Zero(t, p.Speed)
	assert.Zero(t, p.ETA)
}

func TestETADecreasesMonotonically(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	job := progressJob(start, &now)
	job.setTotal(100 << 20)

	// Steady 10 MiB/s: one second and one chunk at a time.
	var lastETA time.Duration
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		job.addBytes(10 << 20)
		p := job.Progress()
		if i > 0 {
			assert.LessOrEqual(t, p.ETA, lastETA)
		}
		lastETA = p.ETA
	}

	p := job.Progress()
	assert.InDelta(t, 100.0, p.Percent, 1e-9)
	assert.Zero(t, p.ETA)
}

func TestProgressCompletedHundredPercent(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(time.Second)
	job := progressJob(start, &now)
	job.setTotal(512)
	job.addBytes(512)
	job.setStatus(StatusCompleted, nil)

	p := job.Progress()
	assert.Equal(t, StatusCompleted, p.Status)
	assert.InDelta(t, 100.0, p.Percent, 1e-9)
	assert.Zero(t, p.ETA)
}
