// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prog-res/streamwatch/internal/catalog"
	xwlog "github.com/prog-res/streamwatch/internal/log"
	"github.com/prog-res/streamwatch/internal/metrics"
	"github.com/prog-res/streamwatch/internal/player"
	"github.com/prog-res/streamwatch/internal/protocol"
	"github.com/prog-res/streamwatch/internal/statesync"
)

// ErrNotBound is returned for playback controls issued before the stream has
// been bound (no segment_info received yet).
var ErrNotBound = errors.New("session not bound")

// Session is one open watch session. It owns the control socket, the engine,
// the synchronizer timer, and the current playback state; Close tears all of
// them down together.
type Session struct {
	ID      string
	VideoID string

	opts  Options
	prefs Preferences
	sink  player.Sink
	log   zerolog.Logger
	wsURL string

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	connMu sync.Mutex
	conn   *websocket.Conn

	mu        sync.Mutex
	watch     *WatchSession
	binding   *player.Binding
	syncer    *statesync.Synchronizer
	state     protocol.PlaybackState
	delivered bool

	events    chan Event
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// Ready is closed once the first stream binding succeeded.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Events returns the asynchronous session notifications.
func (s *Session) Events() <-chan Event { return s.events }

// Watch returns the current WatchSession, or nil before delivery.
func (s *Session) Watch() *WatchSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch == nil {
		return nil
	}
	w := *s.watch
	return &w
}

// Tracks returns the catalog of the bound stream.
func (s *Session) Tracks() catalog.Tracks {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.binding == nil {
		return catalog.Tracks{}
	}
	return s.binding.Tracks
}

// PlaybackState samples the current state, implementing statesync.Source.
// Position is read live from the sink; the remaining fields are owned by
// this session's control methods.
func (s *Session) PlaybackState() protocol.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	if s.binding != nil {
		state.Position = s.binding.Sink.Position()
	}
	return state
}

// SendState pushes one snapshot over the control channel, implementing
// statesync.Sender. A closed channel yields statesync.ErrSenderClosed so the
// synchronizer stops instead of retrying into a dead socket.
func (s *Session) SendState(state protocol.PlaybackState) error {
	payload, err := protocol.EncodeUpdate(state)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return statesync.ErrSenderClosed
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Join(statesync.ErrSenderClosed, err)
	}
	return nil
}

// Play starts or resumes playback. A start rejection is non-fatal: the sink
// stays paused and the caller may retry on user input.
func (s *Session) Play() error {
	s.mu.Lock()
	binding, syncer := s.binding, s.syncer
	s.mu.Unlock()
	if binding == nil {
		return ErrNotBound
	}
	if err := binding.Sink.Play(); err != nil {
		s.log.Info().
			Str(xwlog.FieldEvent, "session.play_rejected").
			Err(err).
			Msg("playback start rejected")
		return err
	}
	syncer.SetPlaying(true)
	return nil
}

// Pause suspends playback and immediately flushes one snapshot, ahead of the
// timer.
func (s *Session) Pause() error {
	s.mu.Lock()
	binding, syncer := s.binding, s.syncer
	s.mu.Unlock()
	if binding == nil {
		return ErrNotBound
	}
	binding.Sink.Pause()
	syncer.SetPlaying(false)
	return nil
}

// Seek moves the playhead and immediately reports the new position.
func (s *Session) Seek(positionSeconds float64) error {
	s.mu.Lock()
	binding, syncer := s.binding, s.syncer
	s.mu.Unlock()
	if binding == nil {
		return ErrNotBound
	}
	binding.Sink.Seek(positionSeconds)
	syncer.NotifyChange(statesync.TriggerSeek)
	return nil
}

// SetVolume adjusts the sink volume. Reported on the next snapshot; volume
// nudges do not force an immediate send. Values outside 0..1 are clamped so
// snapshots never carry an out-of-range volume.
func (s *Session) SetVolume(volume float64) error {
	switch {
	case volume < 0:
		volume = 0
	case volume > 1:
		volume = 1
	}
	s.mu.Lock()
	binding := s.binding
	if binding == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	s.state.Volume = volume
	s.mu.Unlock()
	binding.Sink.SetVolume(volume)
	return nil
}

// SetRate adjusts the playback rate. Reported on the next snapshot.
// Non-positive rates fall back to 1, matching the sink.
func (s *Session) SetRate(rate float64) error {
	if rate <= 0 {
		rate = 1
	}
	s.mu.Lock()
	binding := s.binding
	if binding == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	s.state.Speed = rate
	s.mu.Unlock()
	binding.Sink.SetRate(rate)
	return nil
}

// SetQuality switches the active quality level. A name absent from the
// catalog selects automatic mode and reports "auto", never an invalid index.
// Every switch triggers an immediate snapshot so server-side state never
// updates partially.
func (s *Session) SetQuality(name string) error {
	s.mu.Lock()
	binding, syncer := s.binding, s.syncer
	if binding == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	idx, ok := binding.Tracks.ResolveQuality(name)
	applied := name
	if !ok {
		applied = catalog.Auto
		metrics.TrackResolutionMissTotal.WithLabelValues("quality").Inc()
		s.log.Warn().
			Str(xwlog.FieldEvent, "session.quality_miss").
			Str(xwlog.FieldQuality, name).
			Strs("available", binding.Tracks.QualityNames()).
			Msg("requested quality not in catalog, selecting automatic mode")
	}
	if binding.Engine != nil {
		binding.Engine.SetLevel(idx)
	}
	s.state.Quality = applied
	s.mu.Unlock()

	syncer.NotifyChange(statesync.TriggerSwitch)
	return nil
}

// SetAudioLanguage switches the audio track, defaulting to the engine's
// choice when the language is absent from the catalog.
func (s *Session) SetAudioLanguage(language string) error {
	s.mu.Lock()
	binding, syncer := s.binding, s.syncer
	if binding == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	idx, ok := binding.Tracks.ResolveAudio(language)
	if !ok {
		metrics.TrackResolutionMissTotal.WithLabelValues("audio").Inc()
		s.log.Warn().
			Str(xwlog.FieldEvent, "session.audio_miss").
			Str(xwlog.FieldLanguage, language).
			Msg("requested audio language not in catalog, using default")
	}
	if binding.Engine != nil {
		binding.Engine.SetAudioTrack(idx)
	}
	s.state.SelectedAudioLanguage = languagePtr(language, idx)
	s.mu.Unlock()

	syncer.NotifyChange(statesync.TriggerSwitch)
	return nil
}

// SetSubtitleLanguage switches the subtitle track with the same
// lookup-or-default policy as SetAudioLanguage.
func (s *Session) SetSubtitleLanguage(language string) error {
	s.mu.Lock()
	binding, syncer := s.binding, s.syncer
	if binding == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	idx, ok := binding.Tracks.ResolveSubtitle(language)
	if !ok {
		metrics.TrackResolutionMissTotal.WithLabelValues("subtitle").Inc()
		s.log.Warn().
			Str(xwlog.FieldEvent, "session.subtitle_miss").
			Str(xwlog.FieldLanguage, language).
			Msg("requested subtitle language not in catalog, disabling subtitles")
	}
	if binding.Engine != nil {
		binding.Engine.SetSubtitleTrack(idx)
	}
	s.state.SelectedSubtitle = languagePtr(language, idx)
	s.mu.Unlock()

	syncer.NotifyChange(statesync.TriggerSwitch)
	return nil
}

// languagePtr reports the applied selection: nil for "no explicit selection",
// whether by empty input or by catalog miss.
func languagePtr(language string, idx int) *string {
	if idx == catalog.TrackNone || language == "" {
		return nil
	}
	return &language
}

// Close tears the session down: socket, engine instance, and synchronizer
// timer go together, so no stale timer can fire into a dead channel. Safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		s.mu.Lock()
		syncer := s.syncer
		binding := s.binding
		s.mu.Unlock()

		if syncer != nil {
			syncer.Close()
		}
		if binding != nil && binding.Engine != nil {
			_ = binding.Engine.Close()
		}
		_ = s.group.Wait()

		metrics.ActiveSessions.Dec()
		s.log.Info().Str(xwlog.FieldEvent, "session.closed").Msg("session closed")
	})
	return nil
}

func (s *Session) closed() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// emit delivers an event without blocking the read loop; a full event buffer
// drops the event and logs it.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().
			Str(xwlog.FieldEvent, "session.event_dropped").
			Str("kind", ev.Kind.String()).
			Msg("event buffer full")
	}
}

// swapConn installs a fresh connection after a reconnect and returns the old
// one for closing.
func (s *Session) swapConn(conn *websocket.Conn) {
	s.connMu.Lock()
	old := s.conn
	s.conn = conn
	s.connMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// resetDelivery re-arms the exactly-once segment_info delivery for a fresh
// channel lifetime, and retires the superseded engine and synchronizer.
func (s *Session) resetDelivery() {
	s.mu.Lock()
	syncer := s.syncer
	binding := s.binding
	s.syncer = nil
	s.binding = nil
	s.delivered = false
	s.mu.Unlock()

	if syncer != nil {
		syncer.Close()
	}
	if binding != nil && binding.Engine != nil {
		_ = binding.Engine.Close()
	}
}
