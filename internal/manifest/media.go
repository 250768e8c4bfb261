// SPDX-License-Identifier: MIT

package manifest

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MediaTruth represents authoritative timeline metadata derived from a media
// playlist.
type MediaTruth struct {
	TargetDuration time.Duration
	LastDuration   time.Duration
	TotalDuration  time.Duration
	SegmentCount   int
	IsVOD          bool // Derived from #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST
}

// ParseMedia parses a media playlist to extract its timeline truth:
// segment durations are summed from EXTINF, and VOD is derived from the
// playlist type or an end-list marker.
func ParseMedia(playlist string) (*MediaTruth, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	truth := &MediaTruth{}

	var (
		nextDuration       time.Duration
		hasEndList         bool
		hasPlaylistTypeVOD bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD") {
			hasPlaylistTypeVOD = true
			continue
		}
		if line == "#EXT-X-ENDLIST" {
			hasEndList = true
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-TARGETDURATION:") {
			secs, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("invalid TARGETDURATION: %s", line)
			}
			truth.TargetDuration = time.Duration(secs) * time.Second
			continue
		}

		if strings.HasPrefix(line, "#EXTINF:") {
			// Format: #EXTINF:10.000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			continue
		}

		// URI line (start of a segment)
		if !strings.HasPrefix(line, "#") {
			truth.SegmentCount++
			truth.TotalDuration += nextDuration
			truth.LastDuration = nextDuration
			nextDuration = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if truth.SegmentCount == 0 {
		return nil, fmt.Errorf("media playlist contains no segments")
	}
	truth.IsVOD = hasEndList || hasPlaylistTypeVOD
	return truth, nil
}
