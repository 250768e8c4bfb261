// SPDX-License-Identifier: MIT

// Package player binds an adaptive-bitrate engine (or a native source) to a
// media sink and applies resume state.
package player

import (
	"sync"
	"time"
)

// MimeHLS is the manifest MIME type probed for native playback support.
const MimeHLS = "application/vnd.apple.mpegurl"

// Sink is a media sink capable of timed playback. Implementations must be
// safe for use from the session's callback goroutine.
type Sink interface {
	// CanPlayNative reports whether the sink can play the manifest format
	// directly, without a software engine.
	CanPlayNative(mimeType string) bool
	// SetSource points the sink at a directly playable source.
	SetSource(url string) error

	Seek(positionSeconds float64)
	SetVolume(volume float64)
	SetRate(rate float64)
	// Play starts playback. It may fail with a start rejection, which is a
	// non-fatal condition; the sink stays paused.
	Play() error
	Pause()
	Position() float64
	Playing() bool
}

// ClockSink is a headless sink: playback position advances with wall-clock
// time scaled by the playback rate. It backs the CLI and tests, where no real
// decoder exists.
type ClockSink struct {
	// Clock is injectable for deterministic tests; defaults to time.Now.
	Clock func() time.Time
	// Native, when true, makes the sink accept HLS sources directly.
	Native bool
	// RejectPlay simulates an autoplay-policy rejection on Play.
	RejectPlay error

	mu       sync.Mutex
	source   string
	position float64
	volume   float64
	rate     float64
	playing  bool
	anchor   time.Time
}

// NewClockSink returns a stopped sink at position 0, volume 1, rate 1.
func NewClockSink() *ClockSink {
	return &ClockSink{volume: 1, rate: 1}
}

func (s *ClockSink) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// settle folds elapsed play time into the stored position. Callers hold s.mu.
func (s *ClockSink) settle() {
	if s.playing {
		now := s.now()
		s.position += now.Sub(s.anchor).Seconds() * s.rate
		s.anchor = now
	}
}

func (s *ClockSink) CanPlayNative(mimeType string) bool {
	return s.Native && mimeType == MimeHLS
}

func (s *ClockSink) SetSource(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = url
	return nil
}

// Source returns the directly attached source, if any.
func (s *ClockSink) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *ClockSink) Seek(positionSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	if positionSeconds < 0 {
		positionSeconds = 0
	}
	s.position = positionSeconds
}

func (s *ClockSink) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case volume < 0:
		volume = 0
	case volume > 1:
		volume = 1
	}
	s.volume = volume
}

func (s *ClockSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *ClockSink) SetRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	if rate <= 0 {
		rate = 1
	}
	s.rate = rate
}

func (s *ClockSink) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *ClockSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectPlay != nil {
		return s.RejectPlay
	}
	if !s.playing {
		s.playing = true
		s.anchor = s.now()
	}
	return nil
}

func (s *ClockSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	s.playing = false
}

func (s *ClockSink) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	return s.position
}

func (s *ClockSink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}
