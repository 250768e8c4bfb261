// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prog-res/streamwatch/internal/catalog"
	xwlog "github.com/prog-res/streamwatch/internal/log"
	"github.com/prog-res/streamwatch/internal/manifest"
)

// autoSafetyFactor is the bandwidth multiplier for automatic level selection.
// Selecting against 80% of the estimate avoids rebuffering on fluctuating links.
const autoSafetyFactor = 0.8

// defaultBandwidthBPS is the estimate used before any throughput observation.
const defaultBandwidthBPS = 5_000_000

// ErrEngineClosed is returned by operations on a destroyed engine.
var ErrEngineClosed = errors.New("engine closed")

// Engine is a software adaptive-bitrate engine: it loads a master manifest,
// exposes the rendition catalog, and switches levels/tracks on demand.
type Engine interface {
	// Load fetches and parses the master manifest, returning the catalog.
	// Delivered exactly once per engine lifetime.
	Load(ctx context.Context, manifestURL string) (catalog.Tracks, error)
	// Attach couples the engine to a media sink.
	Attach(sink Sink)

	// SetLevel selects a quality level by catalog index; catalog.LevelAuto
	// delegates selection to the bandwidth estimate.
	SetLevel(idx int)
	Level() int
	// EffectiveLevel resolves auto mode to the level actually in use.
	EffectiveLevel() int

	SetAudioTrack(idx int)
	AudioTrack() int
	SetSubtitleTrack(idx int)
	SubtitleTrack() int

	// Close releases the engine. Safe to call more than once.
	Close() error
}

// HLSEngine is the software engine for HLS manifests.
type HLSEngine struct {
	client *http.Client
	log    zerolog.Logger

	mu          sync.Mutex
	manifestURL string
	master      *manifest.Master
	tracks      catalog.Tracks
	truth       *manifest.MediaTruth
	sink        Sink
	level       int
	audio       int
	subtitle    int
	bandwidth   int
	loaded      bool
	closed      bool
}

var _ Engine = (*HLSEngine)(nil)

// NewHLSEngine constructs an engine using the given HTTP client for playlist
// retrieval. A nil client gets a 30s-timeout default, matching the API client.
func NewHLSEngine(client *http.Client) *HLSEngine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HLSEngine{
		client:    client,
		log:       xwlog.WithComponent("player.engine"),
		level:     catalog.LevelAuto,
		audio:     catalog.TrackNone,
		subtitle:  catalog.TrackNone,
		bandwidth: defaultBandwidthBPS,
	}
}

// Load implements Engine. The media playlist of the initially selected level
// is probed for timeline truth; a probe failure is non-fatal.
func (e *HLSEngine) Load(ctx context.Context, manifestURL string) (catalog.Tracks, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return catalog.Tracks{}, ErrEngineClosed
	}
	if e.loaded {
		e.mu.Unlock()
		return catalog.Tracks{}, fmt.Errorf("manifest already loaded")
	}
	e.mu.Unlock()

	master, err := manifest.FetchMaster(ctx, e.client, manifestURL)
	if err != nil {
		return catalog.Tracks{}, fmt.Errorf("load manifest: %w", err)
	}

	e.mu.Lock()
	e.manifestURL = manifestURL
	e.master = master
	e.tracks = master.Catalog()
	e.loaded = true
	initial := e.effectiveLevelLocked()
	mediaRef := master.Variants[initial].URI
	e.mu.Unlock()

	e.log.Debug().
		Str(xwlog.FieldEvent, "engine.manifest_parsed").
		Str(xwlog.FieldManifestURL, manifestURL).
		Int("levels", len(master.Variants)).
		Msg("master manifest parsed")

	truth, err := manifest.FetchMedia(ctx, e.client, manifestURL, mediaRef)
	if err != nil {
		e.log.Warn().
			Str(xwlog.FieldEvent, "engine.media_probe_failed").
			Err(err).
			Msg("media playlist probe failed")
	} else {
		e.mu.Lock()
		e.truth = truth
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracks, nil
}

// Attach implements Engine.
func (e *HLSEngine) Attach(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.sink = sink
}

// SetLevel implements Engine. Out-of-range indices are rejected and logged;
// the current selection is kept, never an invalid index.
func (e *HLSEngine) SetLevel(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if idx != catalog.LevelAuto && (idx < 0 || idx >= len(e.tracks.Qualities)) {
		e.log.Error().
			Str(xwlog.FieldEvent, "engine.level_out_of_range").
			Int(xwlog.FieldLevel, idx).
			Int("levels", len(e.tracks.Qualities)).
			Msg("rejected out-of-range level")
		return
	}
	e.level = idx
}

// Level implements Engine.
func (e *HLSEngine) Level() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// EffectiveLevel implements Engine.
func (e *HLSEngine) EffectiveLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectiveLevelLocked()
}

// effectiveLevelLocked resolves auto mode against the bandwidth estimate:
// the highest-bandwidth variant fitting within the safety-scaled estimate.
func (e *HLSEngine) effectiveLevelLocked() int {
	if e.level != catalog.LevelAuto {
		return e.level
	}
	if len(e.tracks.Qualities) == 0 {
		return 0
	}
	safe := float64(e.bandwidth) * autoSafetyFactor
	best, lowest := -1, 0
	for i, q := range e.tracks.Qualities {
		if q.Bandwidth < e.tracks.Qualities[lowest].Bandwidth {
			lowest = i
		}
		if float64(q.Bandwidth) <= safe && (best < 0 || q.Bandwidth > e.tracks.Qualities[best].Bandwidth) {
			best = i
		}
	}
	if best < 0 {
		// Nothing fits the estimate; the lowest rendition is the safe floor.
		return lowest
	}
	return best
}

// ObserveBandwidth feeds a throughput measurement (bits per second) into the
// automatic level selection.
func (e *HLSEngine) ObserveBandwidth(bps int) {
	if bps <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bandwidth = bps
}

// SetAudioTrack implements Engine.
func (e *HLSEngine) SetAudioTrack(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if idx != catalog.TrackNone && (idx < 0 || idx >= len(e.tracks.AudioLanguages)) {
		return
	}
	e.audio = idx
}

// AudioTrack implements Engine.
func (e *HLSEngine) AudioTrack() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audio
}

// SetSubtitleTrack implements Engine.
func (e *HLSEngine) SetSubtitleTrack(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if idx != catalog.TrackNone && (idx < 0 || idx >= len(e.tracks.SubtitleLanguages)) {
		return
	}
	e.subtitle = idx
}

// SubtitleTrack implements Engine.
func (e *HLSEngine) SubtitleTrack() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subtitle
}

// Duration returns the probed timeline duration, or zero when unknown.
func (e *HLSEngine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.truth == nil {
		return 0
	}
	return e.truth.TotalDuration
}

// Close implements Engine.
func (e *HLSEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.sink = nil
	e.master = nil
	e.truth = nil
	return nil
}
