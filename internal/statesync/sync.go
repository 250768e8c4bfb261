// SPDX-License-Identifier: MIT

// Package statesync reports playback state over the control channel: on a
// fixed cadence while playing, and immediately on state-affecting events.
package statesync

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	xwlog "github.com/prog-res/streamwatch/internal/log"
	"github.com/prog-res/streamwatch/internal/metrics"
	"github.com/prog-res/streamwatch/internal/protocol"
)

// DefaultInterval is the cadence of periodic snapshots while playing.
const DefaultInterval = 5 * time.Second

// ErrSenderClosed signals that the control channel is gone; the synchronizer
// stops and attempts no further sends.
var ErrSenderClosed = errors.New("control channel closed")

// Trigger labels what caused a snapshot.
type Trigger string

const (
	TriggerInterval Trigger = "interval"
	TriggerPause    Trigger = "pause"
	TriggerSeek     Trigger = "seek"
	TriggerSwitch   Trigger = "switch"
)

// Source samples the current playback state at send time.
type Source interface {
	PlaybackState() protocol.PlaybackState
}

// Sender pushes one snapshot over the control channel.
type Sender interface {
	SendState(state protocol.PlaybackState) error
}

// Ticker abstracts time.Ticker for deterministic tests.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) Chan() <-chan time.Time { return t.C }

// Options configures a Synchronizer. Zero values select production defaults.
type Options struct {
	Interval  time.Duration
	Clock     func() time.Time
	NewTicker func(d time.Duration) Ticker
	Logger    *zerolog.Logger
}

// Synchronizer owns the periodic timer and the outbound snapshot queue for
// one session. All sends happen on a single goroutine, in event order.
type Synchronizer struct {
	src Source
	snd Sender

	interval  time.Duration
	clock     func() time.Time
	newTicker func(d time.Duration) Ticker
	log       zerolog.Logger

	events  chan event
	done    chan struct{}
	stopped chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

type eventKind int

const (
	evPlaying eventKind = iota
	evPaused
	evChange
)

type event struct {
	kind    eventKind
	trigger Trigger
}

// New builds a Synchronizer in the Idle state. Call Start to begin.
func New(src Source, snd Sender, opts Options) *Synchronizer {
	s := &Synchronizer{
		src:       src,
		snd:       snd,
		interval:  opts.Interval,
		clock:     opts.Clock,
		newTicker: opts.NewTicker,
		events:    make(chan event, 16),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newTicker == nil {
		s.newTicker = func(d time.Duration) Ticker {
			return realTicker{time.NewTicker(d)}
		}
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = xwlog.WithComponent("statesync")
	}
	return s
}

// Start launches the send loop. The synchronizer stays passive (no timer)
// until SetPlaying(true).
func (s *Synchronizer) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// SetPlaying moves between Active(playing) and Active(paused). Entering
// paused sends one immediate snapshot and suspends the timer.
func (s *Synchronizer) SetPlaying(playing bool) {
	if playing {
		s.enqueue(event{kind: evPlaying})
	} else {
		s.enqueue(event{kind: evPaused})
	}
}

// NotifyChange sends one immediate snapshot for a state-affecting action
// (seek, quality/track switch), regardless of timer phase.
func (s *Synchronizer) NotifyChange(trigger Trigger) {
	s.enqueue(event{kind: evChange, trigger: trigger})
}

// Close cancels the timer and stops all sends. It waits for the send loop to
// drain so that no snapshot is attempted after return.
func (s *Synchronizer) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	if s.started.Load() {
		<-s.stopped
	}
}

func (s *Synchronizer) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Synchronizer) run() {
	defer close(s.stopped)

	var (
		tk             Ticker
		tickC          <-chan time.Time
		lastChangeSend time.Time
	)
	stopTicker := func() {
		if tk != nil {
			tk.Stop()
			tk = nil
			tickC = nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-s.done:
			return

		case ev := <-s.events:
			switch ev.kind {
			case evPlaying:
				if tk == nil {
					tk = s.newTicker(s.interval)
					tickC = tk.Chan()
				}
			case evPaused:
				// Send-on-change beats the timer: the transition is
				// flushed before the timer is suspended.
				if !s.send(TriggerPause) {
					return
				}
				lastChangeSend = s.clock()
				stopTicker()
			case evChange:
				if !s.send(ev.trigger) {
					return
				}
				lastChangeSend = s.clock()
			}

		case <-tickC:
			// A change-triggered snapshot within this tick already carried
			// the same or newer state; skip the interval send.
			if !lastChangeSend.IsZero() && s.clock().Sub(lastChangeSend) < s.interval {
				continue
			}
			if !s.send(TriggerInterval) {
				return
			}
		}
	}
}

// send samples and pushes one snapshot. It returns false when the channel is
// closed and the loop must stop.
func (s *Synchronizer) send(trigger Trigger) bool {
	state := s.src.PlaybackState()
	if err := s.snd.SendState(state); err != nil {
		metrics.SnapshotSendFailures.Inc()
		if errors.Is(err, ErrSenderClosed) {
			s.log.Debug().
				Str(xwlog.FieldEvent, "statesync.channel_closed").
				Str(xwlog.FieldTrigger, string(trigger)).
				Msg("control channel closed, stopping snapshots")
			return false
		}
		s.log.Warn().
			Str(xwlog.FieldEvent, "statesync.send_failed").
			Str(xwlog.FieldTrigger, string(trigger)).
			Err(err).
			Msg("snapshot send failed")
		return true
	}

	metrics.SnapshotsSentTotal.WithLabelValues(string(trigger)).Inc()
	s.log.Debug().
		Str(xwlog.FieldEvent, "statesync.snapshot_sent").
		Str(xwlog.FieldTrigger, string(trigger)).
		Float64(xwlog.FieldPosition, state.Position).
		Str(xwlog.FieldQuality, state.Quality).
		Msg("snapshot sent")
	return true
}
