// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prog-res/streamwatch/internal/catalog"
)

const engineMaster = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="eng",URI="audio/eng.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,NAME="1080p"
1080p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720,NAME="720p"
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=854x480,NAME="480p"
480p/index.m3u8
`

const engineMedia = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
a.ts
#EXTINF:6.0,
b.ts
#EXT-X-ENDLIST
`

func manifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/master.m3u8":
			_, _ = w.Write([]byte(engineMaster))
		default:
			_, _ = w.Write([]byte(engineMedia))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadedEngine(t *testing.T) *HLSEngine {
	t.Helper()
	srv := manifestServer(t)
	e := NewHLSEngine(srv.Client())
	_, err := e.Load(context.Background(), srv.URL+"/master.m3u8")
	require.NoError(t, err)
	return e
}

func TestEngineLoad(t *testing.T) {
	srv := manifestServer(t)
	e := NewHLSEngine(srv.Client())

	tracks, err := e.Load(context.Background(), srv.URL+"/master.m3u8")
	require.NoError(t, err)

	assert.Equal(t, []string{"1080p", "720p", "480p"}, tracks.QualityNames())
	assert.Equal(t, []string{"eng"}, tracks.AudioLanguages)
	assert.Equal(t, catalog.LevelAuto, e.Level())
	assert.Equal(t, 12*time.Second, e.Duration())
}

func TestEngineLoadOnce(t *testing.T) {
	srv := manifestServer(t)
	e := NewHLSEngine(srv.Client())

	_, err := e.Load(context.Background(), srv.URL+"/master.m3u8")
	require.NoError(t, err)

	_, err = e.Load(context.Background(), srv.URL+"/master.m3u8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already loaded")
}

func TestEngineLoadBadManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a playlist"))
	}))
	defer srv.Close()

	e := NewHLSEngine(srv.Client())
	_, err := e.Load(context.Background(), srv.URL+"/master.m3u8")
	require.Error(t, err)
}

func TestEngineSetLevel(t *testing.T) {
	e := loadedEngine(t)

	e.SetLevel(1)
	assert.Equal(t, 1, e.Level())
	assert.Equal(t, 1, e.EffectiveLevel())

	// Out-of-range selections keep the current level.
	e.SetLevel(7)
	assert.Equal(t, 1, e.Level())
	e.SetLevel(-3)
	assert.Equal(t, 1, e.Level())

	e.SetLevel(catalog.LevelAuto)
	assert.Equal(t, catalog.LevelAuto, e.Level())
}

func TestEngineAutoLevelFollowsBandwidth(t *testing.T) {
	e := loadedEngine(t)

	// Default estimate 5 Mbps, safety factor 0.8: 4 Mbps fits 720p.
	assert.Equal(t, 1, e.EffectiveLevel())

	e.ObserveBandwidth(10_000_000)
	assert.Equal(t, 0, e.EffectiveLevel())

	// Nothing fits 0.8 Mbps; the lowest rendition is the floor.
	e.ObserveBandwidth(1_000_000)
	assert.Equal(t, 2, e.EffectiveLevel())

	e.ObserveBandwidth(0) // ignored
	assert.Equal(t, 2, e.EffectiveLevel())
}

func TestEngineTrackSelection(t *testing.T) {
	e := loadedEngine(t)

	assert.Equal(t, catalog.TrackNone, e.AudioTrack())
	e.SetAudioTrack(0)
	assert.Equal(t, 0, e.AudioTrack())

	// Out-of-range audio index keeps the current track.
	e.SetAudioTrack(5)
	assert.Equal(t, 0, e.AudioTrack())

	// No subtitle renditions in this manifest.
	e.SetSubtitleTrack(0)
	assert.Equal(t, catalog.TrackNone, e.SubtitleTrack())
	e.SetSubtitleTrack(catalog.TrackNone)
	assert.Equal(t, catalog.TrackNone, e.SubtitleTrack())
}

func TestEngineClose(t *testing.T) {
	e := loadedEngine(t)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Load(context.Background(), "http://unused.test/master.m3u8")
	assert.ErrorIs(t, err, ErrEngineClosed)

	// Mutations after close are no-ops.
	e.SetLevel(0)
	assert.Equal(t, catalog.LevelAuto, e.Level())
}
