// SPDX-License-Identifier: MIT

// Package manifest parses HLS playlists: the master playlist that advertises
// renditions, and media playlists that carry the segment timeline.
package manifest

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/prog-res/streamwatch/internal/catalog"
)

// Variant is one #EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	Name       string
	Bandwidth  int
	Width      int
	Height     int
	AudioGroup string
	SubsGroup  string
	URI        string
}

// Alternative is one #EXT-X-MEDIA entry (audio or subtitles).
type Alternative struct {
	GroupID  string
	Name     string
	Language string
	URI      string
	Default  bool
}

// Master is a parsed master playlist.
type Master struct {
	Variants  []Variant
	Audio     []Alternative
	Subtitles []Alternative
}

// ParseMaster parses a master playlist. Variant order is preserved; it is the
// level order renditions are addressed by.
func ParseMaster(playlist string) (*Master, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	m := &Master{}

	var (
		sawHeader   bool
		pendingInf  *Variant
		lineNumber  int
		firstNonBlk = true
	)

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if firstNonBlk {
			firstNonBlk = false
			if line != "#EXTM3U" {
				return nil, fmt.Errorf("line %d: missing #EXTM3U header", lineNumber)
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs, err := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			v := Variant{
				Name:       attrs["NAME"],
				AudioGroup: attrs["AUDIO"],
				SubsGroup:  attrs["SUBTITLES"],
			}
			if bw := attrs["BANDWIDTH"]; bw != "" {
				n, err := strconv.Atoi(bw)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid BANDWIDTH %q", lineNumber, bw)
				}
				v.Bandwidth = n
			}
			if res := attrs["RESOLUTION"]; res != "" {
				w, h, err := parseResolution(res)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNumber, err)
				}
				v.Width, v.Height = w, h
			}
			if v.Name == "" && v.Height > 0 {
				v.Name = fmt.Sprintf("%dp", v.Height)
			}
			pendingInf = &v

		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs, err := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			alt := Alternative{
				GroupID:  attrs["GROUP-ID"],
				Name:     attrs["NAME"],
				Language: attrs["LANGUAGE"],
				URI:      attrs["URI"],
				Default:  attrs["DEFAULT"] == "YES",
			}
			switch attrs["TYPE"] {
			case "AUDIO":
				m.Audio = append(m.Audio, alt)
			case "SUBTITLES":
				m.Subtitles = append(m.Subtitles, alt)
			}

		case strings.HasPrefix(line, "#"):
			// Other tags carry no rendition information.

		default:
			// URI line closes a pending #EXT-X-STREAM-INF.
			if pendingInf == nil {
				continue
			}
			pendingInf.URI = line
			m.Variants = append(m.Variants, *pendingInf)
			pendingInf = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("empty playlist")
	}
	if pendingInf != nil {
		return nil, fmt.Errorf("#EXT-X-STREAM-INF without URI")
	}
	if len(m.Variants) == 0 {
		return nil, fmt.Errorf("master playlist advertises no variants")
	}
	return m, nil
}

// Catalog derives the immutable track catalog from the master playlist.
func (m *Master) Catalog() catalog.Tracks {
	t := catalog.Tracks{
		Qualities: make([]catalog.QualityLevel, 0, len(m.Variants)),
	}
	for _, v := range m.Variants {
		t.Qualities = append(t.Qualities, catalog.QualityLevel{
			Name:      v.Name,
			Bandwidth: v.Bandwidth,
			Width:     v.Width,
			Height:    v.Height,
			URI:       v.URI,
		})
	}
	for _, a := range m.Audio {
		t.AudioLanguages = append(t.AudioLanguages, a.Language)
	}
	for _, s := range m.Subtitles {
		t.SubtitleLanguages = append(t.SubtitleLanguages, s.Language)
	}
	return t
}

func parseResolution(res string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid RESOLUTION %q", res)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid RESOLUTION %q", res)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid RESOLUTION %q", res)
	}
	return w, h, nil
}

// parseAttributes parses an HLS attribute list (KEY=value pairs, values
// optionally quoted, separated by commas that may appear inside quotes).
func parseAttributes(list string) (map[string]string, error) {
	attrs := make(map[string]string)
	rest := list
	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return nil, fmt.Errorf("malformed attribute list %q", list)
		}
		key := strings.TrimSpace(rest[:eq])
		rest = rest[eq+1:]

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted value for %s", key)
			}
			value = rest[1 : 1+end]
			rest = rest[end+2:]
			rest = strings.TrimPrefix(rest, ",")
		} else if comma := strings.IndexByte(rest, ','); comma >= 0 {
			value = rest[:comma]
			rest = rest[comma+1:]
		} else {
			value = rest
			rest = ""
		}
		attrs[key] = value
	}
	return attrs, nil
}
