// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prog-res/streamwatch/internal/catalog"
)

// fakeEngine records what the binder asked for.
type fakeEngine struct {
	tracks   catalog.Tracks
	loadErr  error
	loadedAs string
	attached Sink
	level    int
	audio    int
	subtitle int
	closed   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		tracks: catalog.Tracks{
			Qualities: []catalog.QualityLevel{
				{Name: "1080p", Bandwidth: 5000000},
				{Name: "720p", Bandwidth: 2800000},
			},
			AudioLanguages:    []string{"eng", "fre"},
			SubtitleLanguages: []string{"eng"},
		},
		level:    catalog.LevelAuto,
		audio:    catalog.TrackNone,
		subtitle: catalog.TrackNone,
	}
}

func (f *fakeEngine) Load(_ context.Context, manifestURL string) (catalog.Tracks, error) {
	if f.loadErr != nil {
		return catalog.Tracks{}, f.loadErr
	}
	f.loadedAs = manifestURL
	return f.tracks, nil
}

func (f *fakeEngine) Attach(sink Sink)      { f.attached = sink }
func (f *fakeEngine) SetLevel(idx int)      { f.level = idx }
func (f *fakeEngine) Level() int            { return f.level }
func (f *fakeEngine) EffectiveLevel() int   { return f.level }
func (f *fakeEngine) SetAudioTrack(idx int) { f.audio = idx }
func (f *fakeEngine) AudioTrack() int       { return f.audio }
func (f *fakeEngine) SetSubtitleTrack(idx int) {
	f.subtitle = idx
}
func (f *fakeEngine) SubtitleTrack() int { return f.subtitle }
func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

var _ Engine = (*fakeEngine)(nil)

func TestBindEnginePath(t *testing.T) {
	engine := newFakeEngine()
	sink := NewClockSink()
	rs := Resume{Position: 42, Volume: 0.7, Rate: 1.5, Quality: "720p", Audio: "fre", Subtitle: "eng"}

	b, err := Bind(context.Background(), sink, engine, "https://cdn.test/master.m3u8", rs, catalog.Tracks{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, ModeEngine, b.Mode)
	assert.False(t, b.StartedPaused)
	assert.Same(t, sink, engine.attached.(*ClockSink))
	assert.Equal(t, "https://cdn.test/master.m3u8", engine.loadedAs)

	assert.Equal(t, 1, engine.level)
	assert.Equal(t, 1, engine.audio)
	assert.Equal(t, 0, engine.subtitle)

	assert.InDelta(t, 42.0, sink.Position(), 1e-3)
	assert.InDelta(t, 0.7, sink.Volume(), 1e-9)
	assert.InDelta(t, 1.5, sink.Rate(), 1e-9)
	assert.True(t, sink.Playing())
}

func TestBindEngineLoadFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.loadErr = assert.AnError
	sink := NewClockSink()

	_, err := Bind(context.Background(), sink, engine, "https://cdn.test/master.m3u8", Resume{}, catalog.Tracks{}, zerolog.Nop())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFormatUnsupported)
}

func TestBindQualityMissFallsBackToAuto(t *testing.T) {
	engine := newFakeEngine()
	engine.level = 0
	sink := NewClockSink()
	rs := Resume{Quality: "4K", Rate: 1, Volume: 1}

	b, err := Bind(context.Background(), sink, engine, "https://cdn.test/master.m3u8", rs, catalog.Tracks{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, ModeEngine, b.Mode)
	assert.Equal(t, catalog.LevelAuto, engine.level)
}

func TestBindTrackMissUsesDefaults(t *testing.T) {
	engine := newFakeEngine()
	sink := NewClockSink()
	rs := Resume{Quality: catalog.Auto, Audio: "deu", Subtitle: "spa", Rate: 1, Volume: 1}

	_, err := Bind(context.Background(), sink, engine, "https://cdn.test/master.m3u8", rs, catalog.Tracks{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, catalog.TrackNone, engine.audio)
	assert.Equal(t, catalog.TrackNone, engine.subtitle)
}

func TestBindNativePath(t *testing.T) {
	sink := NewClockSink()
	sink.Native = true
	server := catalog.Tracks{Qualities: []catalog.QualityLevel{{Name: "720p"}}}
	rs := Resume{Position: 10, Volume: 0.5, Rate: 1, Quality: "720p"}

	b, err := Bind(context.Background(), sink, nil, "https://cdn.test/master.m3u8", rs, server, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, ModeNative, b.Mode)
	assert.Nil(t, b.Engine)
	assert.Equal(t, server, b.Tracks)
	assert.Equal(t, "https://cdn.test/master.m3u8", sink.Source())
	assert.InDelta(t, 10.0, sink.Position(), 1e-3)
	assert.True(t, sink.Playing())
}

func TestBindUnsupported(t *testing.T) {
	sink := NewClockSink() // not native, no engine

	_, err := Bind(context.Background(), sink, nil, "https://cdn.test/master.m3u8", Resume{}, catalog.Tracks{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrFormatUnsupported)
}

func TestBindPlayRejectionLeavesPaused(t *testing.T) {
	engine := newFakeEngine()
	sink := NewClockSink()
	sink.RejectPlay = assert.AnError
	rs := Resume{Position: 5, Volume: 1, Rate: 1}

	b, err := Bind(context.Background(), sink, engine, "https://cdn.test/master.m3u8", rs, catalog.Tracks{}, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, b.StartedPaused)
	assert.False(t, sink.Playing())
	assert.InDelta(t, 5.0, sink.Position(), 1e-3)
}
