// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prog-res/streamwatch/internal/catalog"
	xwlog "github.com/prog-res/streamwatch/internal/log"
	"github.com/prog-res/streamwatch/internal/metrics"
)

// ErrFormatUnsupported is returned when neither a software engine nor native
// sink support is available for the manifest format.
var ErrFormatUnsupported = errors.New("adaptive playback format unsupported")

// Mode identifies which arm of the fallback chain a binding uses. The chain
// is resolved exactly once, at bind time.
type Mode int

const (
	// ModeEngine plays through the software adaptive-bitrate engine.
	ModeEngine Mode = iota + 1
	// ModeNative sets the manifest directly as the sink source.
	ModeNative
)

func (m Mode) String() string {
	switch m {
	case ModeEngine:
		return "engine"
	case ModeNative:
		return "native"
	default:
		return "unknown"
	}
}

// Resume is the persisted watch state applied at bind time.
type Resume struct {
	Position float64
	Volume   float64
	Rate     float64
	Quality  string // label or catalog.Auto
	Audio    string // empty means engine default
	Subtitle string // empty means no subtitles
}

// Binding is the resolved attachment of a stream to a sink.
type Binding struct {
	Mode   Mode
	Engine Engine // nil in ModeNative
	Sink   Sink
	Tracks catalog.Tracks
	// StartedPaused is set when playback start was rejected (autoplay
	// policy); the sink is left paused and the condition is non-fatal.
	StartedPaused bool
}

// Bind attaches the manifest to the sink: software engine when available,
// native source when the sink understands the format, ErrFormatUnsupported
// otherwise. On success the resume state has been applied and playback has
// been requested.
//
// serverTracks is the catalog advertised over the control channel; it backs
// selection resolution in native mode, where no engine parses the manifest.
func Bind(ctx context.Context, sink Sink, engine Engine, manifestURL string, rs Resume, serverTracks catalog.Tracks, logger zerolog.Logger) (*Binding, error) {
	switch {
	case engine != nil:
		tracks, err := engine.Load(ctx, manifestURL)
		if err != nil {
			return nil, fmt.Errorf("bind engine: %w", err)
		}
		engine.Attach(sink)

		applySelections(engine, tracks, rs, logger)

		b := &Binding{Mode: ModeEngine, Engine: engine, Sink: sink, Tracks: tracks}
		applyResume(b, rs, logger)
		return b, nil

	case sink.CanPlayNative(MimeHLS):
		if err := sink.SetSource(manifestURL); err != nil {
			return nil, fmt.Errorf("bind native source: %w", err)
		}
		b := &Binding{Mode: ModeNative, Sink: sink, Tracks: serverTracks}
		applyResume(b, rs, logger)
		return b, nil

	default:
		return nil, ErrFormatUnsupported
	}
}

// applySelections resolves the resume quality and track selections against
// the catalog. A miss falls back to auto/default and is logged, never an
// out-of-range index.
func applySelections(engine Engine, tracks catalog.Tracks, rs Resume, logger zerolog.Logger) {
	levelIdx, ok := tracks.ResolveQuality(rs.Quality)
	if !ok {
		metrics.TrackResolutionMissTotal.WithLabelValues("quality").Inc()
		logger.Warn().
			Str(xwlog.FieldEvent, "bind.quality_miss").
			Str(xwlog.FieldQuality, rs.Quality).
			Strs("available", tracks.QualityNames()).
			Msg("resume quality not in catalog, falling back to auto")
	}
	engine.SetLevel(levelIdx)

	audioIdx, ok := tracks.ResolveAudio(rs.Audio)
	if !ok {
		metrics.TrackResolutionMissTotal.WithLabelValues("audio").Inc()
		logger.Warn().
			Str(xwlog.FieldEvent, "bind.audio_miss").
			Str(xwlog.FieldLanguage, rs.Audio).
			Msg("resume audio language not in catalog, using engine default")
	}
	engine.SetAudioTrack(audioIdx)

	subIdx, ok := tracks.ResolveSubtitle(rs.Subtitle)
	if !ok {
		metrics.TrackResolutionMissTotal.WithLabelValues("subtitle").Inc()
		logger.Warn().
			Str(xwlog.FieldEvent, "bind.subtitle_miss").
			Str(xwlog.FieldLanguage, rs.Subtitle).
			Msg("resume subtitle language not in catalog, disabling subtitles")
	}
	engine.SetSubtitleTrack(subIdx)
}

// applyResume seeks and restores volume/rate, then requests playback. A start
// rejection leaves the sink paused and marks the binding, non-fatally.
func applyResume(b *Binding, rs Resume, logger zerolog.Logger) {
	b.Sink.Seek(rs.Position)
	b.Sink.SetVolume(rs.Volume)
	b.Sink.SetRate(rs.Rate)

	if err := b.Sink.Play(); err != nil {
		b.StartedPaused = true
		logger.Info().
			Str(xwlog.FieldEvent, "bind.play_rejected").
			Err(err).
			Msg("playback start rejected, leaving sink paused")
	}
}
