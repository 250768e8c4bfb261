// SPDX-License-Identifier: MIT

// Package protocol defines the control-channel message shapes exchanged with
// the watch-session endpoint.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types carried in the "type" field of every envelope.
const (
	TypeSegmentInfo = "segment_info"
	TypeUpdate      = "update"
	TypeError       = "error"
	TypeWatchUpdate = "watch_update"
)

// SegmentInfo is pushed by the server once per channel open. It carries the
// master manifest location and the last persisted watch state for this viewer.
type SegmentInfo struct {
	ManifestURL       string          `json:"manifest_url"`
	LastPosition      float64         `json:"last_position"`
	LastVolume        float64         `json:"last_volume"`
	LastPlaybackSpeed float64         `json:"last_playback_speed"`
	LastQuality       string          `json:"last_quality"`
	Qualities         []QualityOption `json:"qualities,omitempty"`
	AudioTracks       []Track         `json:"audio_tracks,omitempty"`
	SubtitleTracks    []Track         `json:"subtitle_tracks,omitempty"`
	Metadata          *Metadata       `json:"metadata,omitempty"`
}

// QualityOption describes one server-advertised rendition.
type QualityOption struct {
	Name       string `json:"name"`
	URL        string `json:"url,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Bandwidth  string `json:"bandwidth,omitempty"`
}

// Track describes one alternative audio or subtitle rendition.
type Track struct {
	Language string `json:"language"`
	URL      string `json:"url,omitempty"`
}

// Metadata carries probe information about the source file.
type Metadata struct {
	FPS      float64 `json:"fps"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
}

// PlaybackState is the client-owned snapshot reported back to the server.
// Field names match what the persistence consumer expects.
type PlaybackState struct {
	Position              float64 `json:"position"`
	Quality               string  `json:"quality"`
	Speed                 float64 `json:"speed"`
	Volume                float64 `json:"volume"`
	SelectedSubtitle      *string `json:"selectedSubtitle"`
	SelectedAudioLanguage *string `json:"selectedAudioLanguage"`
}

// ErrorMessage is a non-fatal error report from the server.
type ErrorMessage struct {
	Message string `json:"message"`
}

// WatchUpdate echoes a state change persisted for this viewer, possibly from
// another device on the same account.
type WatchUpdate struct {
	Position float64 `json:"position"`
	Quality  string  `json:"quality"`
	Speed    float64 `json:"speed"`
	Volume   float64 `json:"volume"`
	VideoID  string  `json:"video_id"`
}

type envelope struct {
	Type string `json:"type"`
}

type updateEnvelope struct {
	Type string        `json:"type"`
	Data PlaybackState `json:"data"`
}

// Decode parses one inbound control-channel frame into its typed message:
// *SegmentInfo, *ErrorMessage, or *WatchUpdate.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeSegmentInfo:
		var msg SegmentInfo
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TypeSegmentInfo, err)
		}
		if msg.ManifestURL == "" {
			return nil, fmt.Errorf("%s without manifest_url", TypeSegmentInfo)
		}
		return &msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TypeError, err)
		}
		return &msg, nil
	case TypeWatchUpdate:
		var msg WatchUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TypeWatchUpdate, err)
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// EncodeUpdate serialises an outbound state snapshot.
func EncodeUpdate(state PlaybackState) ([]byte, error) {
	return json.Marshal(updateEnvelope{Type: TypeUpdate, Data: state})
}

// ListRequest is the explicit request sent on open for dashboard-style list
// sessions. The playback channel sends nothing; the server pushes state
// unsolicited there.
type ListRequest struct {
	Type   string         `json:"type"` // e.g. "list_videos", "list_my_videos"
	Params map[string]any `json:"params,omitempty"`
}

// EncodeListRequest serialises a list request.
func EncodeListRequest(req ListRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeUpdate parses an outbound update frame. Used by the simulator and by
// tests observing the client side of the channel.
func DecodeUpdate(data []byte) (*PlaybackState, error) {
	var env updateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	if env.Type != TypeUpdate {
		return nil, fmt.Errorf("unexpected outbound type %q", env.Type)
	}
	return &env.Data, nil
}
