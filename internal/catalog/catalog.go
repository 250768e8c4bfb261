// SPDX-License-Identifier: MIT

// Package catalog models the quality/audio/subtitle options exposed by a
// parsed manifest and resolves human-readable selections to engine indices.
package catalog

// Auto is the quality selection that delegates level choice to the engine.
const Auto = "auto"

// Sentinel indices for "no explicit selection".
const (
	LevelAuto = -1
	TrackNone = -1
)

// QualityLevel is one rendition advertised by the master manifest,
// in manifest order.
type QualityLevel struct {
	Name      string
	Bandwidth int
	Width     int
	Height    int
	URI       string
}

// Tracks is the immutable catalog for one bound stream. It is built once
// after manifest parse and safely shared without locking.
type Tracks struct {
	Qualities         []QualityLevel
	AudioLanguages    []string
	SubtitleLanguages []string
}

// ResolveQuality maps a quality name to a level index. The empty selection
// and Auto resolve to LevelAuto. A name absent from the catalog also resolves
// to LevelAuto, with ok=false so callers can report the miss.
func (t Tracks) ResolveQuality(name string) (idx int, ok bool) {
	if name == "" || name == Auto {
		return LevelAuto, true
	}
	for i, q := range t.Qualities {
		if q.Name == name {
			return i, true
		}
	}
	return LevelAuto, false
}

// ResolveAudio maps an audio language tag to a track index. The empty
// selection resolves to TrackNone (engine default). An unmatched tag resolves
// to TrackNone with ok=false.
func (t Tracks) ResolveAudio(language string) (idx int, ok bool) {
	return resolveLanguage(t.AudioLanguages, language)
}

// ResolveSubtitle maps a subtitle language tag to a track index, with the
// same default policy as ResolveAudio.
func (t Tracks) ResolveSubtitle(language string) (idx int, ok bool) {
	return resolveLanguage(t.SubtitleLanguages, language)
}

func resolveLanguage(tags []string, language string) (int, bool) {
	if language == "" {
		return TrackNone, true
	}
	for i, tag := range tags {
		if tag == language {
			return i, true
		}
	}
	return TrackNone, false
}

// QualityNames returns the ordered rendition names.
func (t Tracks) QualityNames() []string {
	names := make([]string, 0, len(t.Qualities))
	for _, q := range t.Qualities {
		names = append(names, q.Name)
	}
	return names
}

// Empty reports whether the catalog advertises no renditions at all.
func (t Tracks) Empty() bool {
	return len(t.Qualities) == 0 && len(t.AudioLanguages) == 0 && len(t.SubtitleLanguages) == 0
}
