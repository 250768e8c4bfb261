// SPDX-License-Identifier: MIT

package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock advances only when told to.
type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestClockSinkAdvancesWhilePlaying(t *testing.T) {
	clock := newManualClock()
	sink := NewClockSink()
	sink.Clock = clock.Now

	require.NoError(t, sink.Play())
	assert.True(t, sink.Playing())

	clock.Advance(10 * time.Second)
	assert.InDelta(t, 10.0, sink.Position(), 1e-9)

	sink.Pause()
	clock.Advance(5 * time.Second)
	assert.InDelta(t, 10.0, sink.Position(), 1e-9)
	assert.False(t, sink.Playing())
}

func TestClockSinkRateScalesPosition(t *testing.T) {
	clock := newManualClock()
	sink := NewClockSink()
	sink.Clock = clock.Now

	sink.SetRate(2.0)
	require.NoError(t, sink.Play())
	clock.Advance(4 * time.Second)
	assert.InDelta(t, 8.0, sink.Position(), 1e-9)

	// Rate change mid-play folds elapsed time at the old rate first.
	sink.SetRate(0.5)
	clock.Advance(4 * time.Second)
	assert.InDelta(t, 10.0, sink.Position(), 1e-9)
}

func TestClockSinkSeek(t *testing.T) {
	sink := NewClockSink()
	sink.Seek(90)
	assert.InDelta(t, 90.0, sink.Position(), 1e-9)

	sink.Seek(-5)
	assert.InDelta(t, 0.0, sink.Position(), 1e-9)
}

func TestClockSinkVolumeClamped(t *testing.T) {
	sink := NewClockSink()
	assert.InDelta(t, 1.0, sink.Volume(), 1e-9)

	sink.SetVolume(0.3)
	assert.InDelta(t, 0.3, sink.Volume(), 1e-9)

	sink.SetVolume(1.7)
	assert.InDelta(t, 1.0, sink.Volume(), 1e-9)

	sink.SetVolume(-0.1)
	assert.InDelta(t, 0.0, sink.Volume(), 1e-9)
}

func TestClockSinkRejectPlay(t *testing.T) {
	sink := NewClockSink()
	sink.RejectPlay = assert.AnError

	err := sink.Play()
	require.Error(t, err)
	assert.False(t, sink.Playing())
}

func TestClockSinkNativeSupport(t *testing.T) {
	sink := NewClockSink()
	assert.False(t, sink.CanPlayNative(MimeHLS))

	sink.Native = true
	assert.True(t, sink.CanPlayNative(MimeHLS))
	assert.False(t, sink.CanPlayNative("video/mp4"))

	require.NoError(t, sink.SetSource("https://cdn.test/master.m3u8"))
	assert.Equal(t, "https://cdn.test/master.m3u8", sink.Source())
}
