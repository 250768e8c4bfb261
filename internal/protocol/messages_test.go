// SPDX-License-Identifier: MIT

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSegmentInfo(t *testing.T) {
	data := []byte(`{
		"type": "segment_info",
		"manifest_url": "https://cdn.test/v/1/master.m3u8",
		"last_position": 42.5,
		"last_volume": 0.8,
		"last_playback_speed": 1.25,
		"last_quality": "720p",
		"qualities": [{"name": "1080p"}, {"name": "720p"}],
		"audio_tracks": [{"language": "eng"}, {"language": "fre"}],
		"subtitle_tracks": [{"language": "eng"}],
		"metadata": {"fps": 25, "width": 1920, "height": 1080, "duration": 3600, "size": 1000}
	}`)

	msg, err := Decode(data)
	require.NoError(t, err)

	info, ok := msg.(*SegmentInfo)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/v/1/master.m3u8", info.ManifestURL)
	assert.Equal(t, 42.5, info.LastPosition)
	assert.Equal(t, 0.8, info.LastVolume)
	assert.Equal(t, 1.25, info.LastPlaybackSpeed)
	assert.Equal(t, "720p", info.LastQuality)
	assert.Len(t, info.Qualities, 2)
	assert.Len(t, info.AudioTracks, 2)
	assert.Len(t, info.SubtitleTracks, 1)
	require.NotNil(t, info.Metadata)
	assert.Equal(t, 25.0, info.Metadata.FPS)
}

func TestDecodeSegmentInfoMissingManifest(t *testing.T) {
	_, err := Decode([]byte(`{"type": "segment_info", "last_position": 1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest_url")
}

func TestDecodeError(t *testing.T) {
	msg, err := Decode([]byte(`{"type": "error", "message": "video not found"}`))
	require.NoError(t, err)

	e, ok := msg.(*ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "video not found", e.Message)
}

func TestDecodeWatchUpdate(t *testing.T) {
	msg, err := Decode([]byte(`{"type": "watch_update", "position": 7, "quality": "auto", "speed": 1, "volume": 1, "video_id": "abc"}`))
	require.NoError(t, err)

	wu, ok := msg.(*WatchUpdate)
	require.True(t, ok)
	assert.Equal(t, 7.0, wu.Position)
	assert.Equal(t, "abc", wu.VideoID)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type": "telemetry"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry")
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"type": `))
	require.Error(t, err)
}

func TestEncodeUpdateWireShape(t *testing.T) {
	sub := "eng"
	data, err := EncodeUpdate(PlaybackState{
		Position:         120.5,
		Quality:          "1080p",
		Speed:            1.0,
		Volume:           0.5,
		SelectedSubtitle: &sub,
	})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `"update"`, string(raw["type"]))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw["data"], &payload))
	assert.Equal(t, 120.5, payload["position"])
	assert.Equal(t, "1080p", payload["quality"])
	assert.Equal(t, "eng", payload["selectedSubtitle"])
	// Unset pointers serialize as explicit null, matching the web client.
	assert.Contains(t, payload, "selectedAudioLanguage")
	assert.Nil(t, payload["selectedAudioLanguage"])
}

func TestDecodeUpdateRoundTrip(t *testing.T) {
	audio := "fre"
	in := PlaybackState{Position: 9, Quality: "auto", Speed: 1.5, Volume: 1, SelectedAudioLanguage: &audio}
	data, err := EncodeUpdate(in)
	require.NoError(t, err)

	out, err := DecodeUpdate(data)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestDecodeUpdateRejectsInbound(t *testing.T) {
	_, err := DecodeUpdate([]byte(`{"type": "segment_info", "manifest_url": "x"}`))
	require.Error(t, err)
}

func TestEncodeListRequest(t *testing.T) {
	data, err := EncodeListRequest(ListRequest{
		Type:   "list_videos",
		Params: map[string]any{"page": 1},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "list_videos", "params": {"page": 1}}`, string(data))
}
