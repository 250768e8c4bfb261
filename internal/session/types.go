// SPDX-License-Identifier: MIT

// Package session negotiates watch sessions over the control channel and
// owns the per-session resources: socket, engine, timer, playback state.
package session

import (
	"github.com/prog-res/streamwatch/internal/catalog"
	"github.com/prog-res/streamwatch/internal/protocol"
)

// WatchSession is the resume state delivered by the server when a control
// channel opens. Immutable once received; a reconnect supersedes it with a
// fresh one.
type WatchSession struct {
	VideoID        string
	ManifestURL    string
	ResumePosition float64
	ResumeVolume   float64
	ResumeRate     float64
	ResumeQuality  string // label or "auto"
	ResumeAudio    string // empty when unset
	ResumeSubtitle string // empty when unset

	// ServerTracks is the catalog advertised alongside the manifest; it
	// backs selection resolution when no software engine parses the
	// manifest itself.
	ServerTracks catalog.Tracks
}

// Preferences carries the viewer's initial track choices, typically taken
// from the video details (first advertised language).
type Preferences struct {
	AudioLanguage    string
	SubtitleLanguage string
}

// EventKind classifies session events surfaced to the caller.
type EventKind int

const (
	// EventReady fires once per channel lifetime, after the stream has been
	// bound and resume state applied.
	EventReady EventKind = iota + 1
	// EventServerError is a non-fatal error message from the server.
	EventServerError
	// EventWatchUpdate echoes watch state persisted for this viewer,
	// possibly from another device.
	EventWatchUpdate
	// EventChannelClosed fires when the control channel drops. Playback is
	// left as-is; no further snapshots are sent on the dead channel.
	EventChannelClosed
	// EventReconnected fires after a successful automatic reconnect; a new
	// WatchSession has been delivered and bound.
	EventReconnected
	// EventUnsupported fires when neither the software engine nor native
	// playback can handle the manifest. Fatal for the viewing context.
	EventUnsupported
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventServerError:
		return "server_error"
	case EventWatchUpdate:
		return "watch_update"
	case EventChannelClosed:
		return "channel_closed"
	case EventReconnected:
		return "reconnected"
	case EventUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Event is one asynchronous session notification.
type Event struct {
	Kind    EventKind
	Message string
	Watch   *protocol.WatchUpdate
}

func watchSessionFromSegmentInfo(videoID string, msg *protocol.SegmentInfo, prefs Preferences) WatchSession {
	tracks := catalog.Tracks{}
	for _, q := range msg.Qualities {
		tracks.Qualities = append(tracks.Qualities, catalog.QualityLevel{Name: q.Name})
	}
	for _, t := range msg.AudioTracks {
		tracks.AudioLanguages = append(tracks.AudioLanguages, t.Language)
	}
	for _, t := range msg.SubtitleTracks {
		tracks.SubtitleLanguages = append(tracks.SubtitleLanguages, t.Language)
	}
	return WatchSession{
		VideoID:        videoID,
		ManifestURL:    msg.ManifestURL,
		ResumePosition: msg.LastPosition,
		ResumeVolume:   msg.LastVolume,
		ResumeRate:     msg.LastPlaybackSpeed,
		ResumeQuality:  msg.LastQuality,
		ResumeAudio:    prefs.AudioLanguage,
		ResumeSubtitle: prefs.SubtitleLanguage,
		ServerTracks:   tracks,
	}
}
