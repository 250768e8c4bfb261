// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
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

const defaultReconnectTries = 4

// Options configures the Negotiator and the sessions it opens.
type Options struct {
	// WSBase is the control-channel base URL, e.g. "ws://host/ws".
	WSBase string
	// Token is the viewer identity token, passed as a query parameter the
	// way the web frontend does.
	Token string
	// SyncInterval overrides the snapshot cadence (default 5s).
	SyncInterval time.Duration
	// Reconnect enables automatic reopen with capped exponential backoff
	// after an unexpected channel drop. Off by default: the web frontend
	// requires full navigation, and that remains the baseline behavior.
	Reconnect bool
	// MaxReconnectTries caps backoff attempts per drop (default 4).
	MaxReconnectTries uint
	// NewEngine constructs the software adaptive engine for each channel
	// lifetime. Nil means no engine: the binder falls back to native sink
	// support, then to the unsupported condition.
	NewEngine func() player.Engine
	// ListRequest, when set, is sent right after open. Playback sessions
	// send nothing; dashboard-style list sessions request explicitly.
	ListRequest *protocol.ListRequest

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Clock and NewTicker are injectable for deterministic tests.
	Clock     func() time.Time
	NewTicker func(d time.Duration) statesync.Ticker
}

// Negotiator opens control channels: one per viewing session.
type Negotiator struct {
	opts Options
	log  zerolog.Logger
}

// NewNegotiator builds a Negotiator.
func NewNegotiator(opts Options) *Negotiator {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MaxReconnectTries == 0 {
		opts.MaxReconnectTries = defaultReconnectTries
	}
	return &Negotiator{
		opts: opts,
		log:  xwlog.WithComponent("session"),
	}
}

// Open dials the control channel for videoID and starts the session's read
// loop. The server pushes segment_info unsolicited; binding happens
// asynchronously and is signalled through Ready and the event stream. A dial
// failure leaves playback uninitialized and is surfaced to the caller.
func (n *Negotiator) Open(ctx context.Context, videoID string, sink player.Sink, prefs Preferences) (*Session, error) {
	wsURL, err := n.channelURL(videoID)
	if err != nil {
		return nil, err
	}

	conn, err := n.dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("open control channel: %w", err)
	}

	sessionID := uuid.NewString()
	sessionCtx := xwlog.ContextWithSessionID(context.WithoutCancel(ctx), sessionID)
	sessionCtx = xwlog.ContextWithVideoID(sessionCtx, videoID)
	sessionCtx, cancel := context.WithCancel(sessionCtx)
	group, sessionCtx := errgroup.WithContext(sessionCtx)

	s := &Session{
		ID:      sessionID,
		VideoID: videoID,
		opts:    n.opts,
		prefs:   prefs,
		sink:    sink,
		wsURL:   wsURL,
		ctx:     sessionCtx,
		cancel:  cancel,
		group:   group,
		conn:    conn,
		events:  make(chan Event, 16),
		ready:   make(chan struct{}),
	}
	s.log = xwlog.WithComponentFromContext(sessionCtx, "session")

	if n.opts.ListRequest != nil {
		payload, err := protocol.EncodeListRequest(*n.opts.ListRequest)
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, payload)
		}
		if err != nil {
			_ = conn.Close()
			cancel()
			return nil, fmt.Errorf("send list request: %w", err)
		}
	}

	metrics.ActiveSessions.Inc()
	s.log.Info().Str(xwlog.FieldEvent, "session.open").Msg("control channel open")

	group.Go(func() error {
		s.run(conn)
		return nil
	})
	return s, nil
}

func (n *Negotiator) channelURL(videoID string) (string, error) {
	base := strings.TrimRight(n.opts.WSBase, "/")
	if base == "" {
		return "", fmt.Errorf("control channel base URL not configured")
	}
	u := base + "/videowatch/" + url.PathEscape(videoID) + "/"
	if n.opts.Token != "" {
		u += "?token=" + url.QueryEscape(n.opts.Token)
	}
	return u, nil
}

func (n *Negotiator) dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	conn, res, err := n.opts.Dialer.DialContext(ctx, wsURL, nil)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	return conn, err
}

// run consumes the channel until teardown, reconnecting when enabled.
func (s *Session) run(conn *websocket.Conn) {
	for {
		err := s.consume(conn)
		if s.closed() {
			return
		}

		s.log.Warn().
			Str(xwlog.FieldEvent, "session.channel_dropped").
			Err(err).
			Msg("control channel dropped")
		s.emit(Event{Kind: EventChannelClosed})

		if !s.opts.Reconnect {
			// The synchronizer discovers the dead channel on its next send
			// and stops; playback itself is left untouched.
			return
		}

		next, err := s.redial()
		if err != nil {
			metrics.SessionReconnectsTotal.WithLabelValues("failed").Inc()
			s.log.Error().
				Str(xwlog.FieldEvent, "session.reconnect_failed").
				Err(err).
				Msg("reconnect attempts exhausted")
			return
		}

		metrics.SessionReconnectsTotal.WithLabelValues("reconnected").Inc()
		s.resetDelivery()
		s.swapConn(next)
		conn = next
		s.emit(Event{Kind: EventReconnected})
		s.log.Info().Str(xwlog.FieldEvent, "session.reconnected").Msg("control channel reopened")
	}
}

// consume processes inbound frames in arrival order until a read error.
func (s *Session) consume(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.log.Warn().
				Str(xwlog.FieldEvent, "session.bad_message").
				Err(err).
				Msg("discarding undecodable frame")
			continue
		}

		switch m := msg.(type) {
		case *protocol.SegmentInfo:
			s.handleSegmentInfo(m)
		case *protocol.ErrorMessage:
			s.log.Warn().
				Str(xwlog.FieldEvent, "session.server_error").
				Str("message", m.Message).
				Msg("server reported an error")
			s.emit(Event{Kind: EventServerError, Message: m.Message})
		case *protocol.WatchUpdate:
			s.emit(Event{Kind: EventWatchUpdate, Watch: m})
		}
	}
}

// handleSegmentInfo binds the stream exactly once per channel lifetime.
func (s *Session) handleSegmentInfo(msg *protocol.SegmentInfo) {
	s.mu.Lock()
	if s.delivered {
		s.mu.Unlock()
		s.log.Warn().
			Str(xwlog.FieldEvent, "session.duplicate_segment_info").
			Msg("dropping duplicate segment_info on same channel")
		return
	}
	s.delivered = true
	s.mu.Unlock()

	watch := watchSessionFromSegmentInfo(s.VideoID, msg, s.prefs)

	var engine player.Engine
	if s.opts.NewEngine != nil {
		engine = s.opts.NewEngine()
	}

	resume := player.Resume{
		Position: watch.ResumePosition,
		Volume:   watch.ResumeVolume,
		Rate:     watch.ResumeRate,
		Quality:  watch.ResumeQuality,
		Audio:    watch.ResumeAudio,
		Subtitle: watch.ResumeSubtitle,
	}

	binding, err := player.Bind(s.ctx, s.sink, engine, watch.ManifestURL, resume, watch.ServerTracks, s.log)
	if err != nil {
		if engine != nil {
			_ = engine.Close()
		}
		if errors.Is(err, player.ErrFormatUnsupported) {
			s.log.Error().
				Str(xwlog.FieldEvent, "session.format_unsupported").
				Str(xwlog.FieldManifestURL, watch.ManifestURL).
				Msg("no playback path for manifest format")
			s.emit(Event{Kind: EventUnsupported, Message: err.Error()})
			return
		}
		// Engine/transport failure: last-good frame stays visible, the
		// viewer may retry by re-navigating.
		s.log.Error().
			Str(xwlog.FieldEvent, "session.bind_failed").
			Err(err).
			Msg("stream binding failed")
		s.emit(Event{Kind: EventServerError, Message: err.Error()})
		return
	}

	syncer := statesync.New(s, s, statesync.Options{
		Interval:  s.opts.SyncInterval,
		Clock:     s.opts.Clock,
		NewTicker: s.opts.NewTicker,
		Logger:    &s.log,
	})

	s.mu.Lock()
	s.watch = &watch
	s.binding = binding
	s.syncer = syncer
	s.state = protocol.PlaybackState{
		Position: watch.ResumePosition,
		Quality:  appliedQuality(binding, watch.ResumeQuality),
		Speed:    watch.ResumeRate,
		Volume:   watch.ResumeVolume,
	}
	audioIdx, _ := binding.Tracks.ResolveAudio(watch.ResumeAudio)
	s.state.SelectedAudioLanguage = languagePtr(watch.ResumeAudio, audioIdx)
	subIdx, _ := binding.Tracks.ResolveSubtitle(watch.ResumeSubtitle)
	s.state.SelectedSubtitle = languagePtr(watch.ResumeSubtitle, subIdx)
	s.mu.Unlock()

	syncer.Start()
	if !binding.StartedPaused {
		syncer.SetPlaying(true)
	}

	s.log.Info().
		Str(xwlog.FieldEvent, "session.bound").
		Str(xwlog.FieldManifestURL, watch.ManifestURL).
		Str("mode", binding.Mode.String()).
		Float64(xwlog.FieldPosition, watch.ResumePosition).
		Str(xwlog.FieldQuality, watch.ResumeQuality).
		Msg("stream bound, resume state applied")

	s.readyOnce.Do(func() { close(s.ready) })
	s.emit(Event{Kind: EventReady})
}

// appliedQuality reports the quality label actually in effect: the resume
// label when resolvable, automatic mode otherwise.
func appliedQuality(binding *player.Binding, requested string) string {
	if _, ok := binding.Tracks.ResolveQuality(requested); ok && requested != "" {
		return requested
	}
	return catalog.Auto
}

// redial reopens the channel with capped exponential backoff.
func (s *Session) redial() (*websocket.Conn, error) {
	operation := func() (*websocket.Conn, error) {
		conn, res, err := s.opts.Dialer.DialContext(s.ctx, s.wsURL, nil)
		if res != nil && res.Body != nil {
			_ = res.Body.Close()
		}
		return conn, err
	}
	return backoff.Retry(s.ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.opts.MaxReconnectTries),
	)
}
