// SPDX-License-Identifier: MIT

package manifest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prog-res/streamwatch/internal/catalog"
)

const masterFixture = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="eng",DEFAULT=YES,URI="audio/eng/index.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="Francais",LANGUAGE="fre",URI="audio/fre/index.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="sub",NAME="English",LANGUAGE="eng",URI="sub/eng/index.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,NAME="1080p",AUDIO="aud",SUBTITLES="sub"
1080p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720,AUDIO="aud",SUBTITLES="sub"
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=854x480
480p/index.m3u8
`

func TestParseMaster(t *testing.T) {
	m, err := ParseMaster(masterFixture)
	require.NoError(t, err)

	want := &Master{
		Variants: []Variant{
			{Name: "1080p", Bandwidth: 5000000, Width: 1920, Height: 1080, AudioGroup: "aud", SubsGroup: "sub", URI: "1080p/index.m3u8"},
			{Name: "720p", Bandwidth: 2800000, Width: 1280, Height: 720, AudioGroup: "aud", SubsGroup: "sub", URI: "720p/index.m3u8"},
			{Name: "480p", Bandwidth: 1200000, Width: 854, Height: 480, URI: "480p/index.m3u8"},
		},
		Audio: []Alternative{
			{GroupID: "aud", Name: "English", Language: "eng", URI: "audio/eng/index.m3u8", Default: true},
			{GroupID: "aud", Name: "Francais", Language: "fre", URI: "audio/fre/index.m3u8"},
		},
		Subtitles: []Alternative{
			{GroupID: "sub", Name: "English", Language: "eng", URI: "sub/eng/index.m3u8"},
		},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("master mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMasterDerivesNameFromResolution(t *testing.T) {
	m, err := ParseMaster(masterFixture)
	require.NoError(t, err)
	// Second variant carries no NAME attribute on the wire.
	assert.Equal(t, "720p", m.Variants[1].Name)
}

func TestParseMasterErrors(t *testing.T) {
	tests := []struct {
		name     string
		playlist string
		wantErr  string
	}{
		{"empty input", "", "empty playlist"},
		{"missing header", "#EXT-X-STREAM-INF:BANDWIDTH=1\nv.m3u8\n", "#EXTM3U"},
		{"no variants", "#EXTM3U\n#EXT-X-VERSION:6\n", "no variants"},
		{"dangling stream-inf", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n", "without URI"},
		{"bad bandwidth", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=high\nv.m3u8\n", "BANDWIDTH"},
		{"bad resolution", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1,RESOLUTION=wide\nv.m3u8\n", "RESOLUTION"},
		{"unterminated quote", "#EXTM3U\n#EXT-X-STREAM-INF:NAME=\"oops\nv.m3u8\n", "unterminated"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMaster(tc.playlist)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestMasterCatalog(t *testing.T) {
	m, err := ParseMaster(masterFixture)
	require.NoError(t, err)

	got := m.Catalog()
	want := catalog.Tracks{
		Qualities: []catalog.QualityLevel{
			{Name: "1080p", Bandwidth: 5000000, Width: 1920, Height: 1080, URI: "1080p/index.m3u8"},
			{Name: "720p", Bandwidth: 2800000, Width: 1280, Height: 720, URI: "720p/index.m3u8"},
			{Name: "480p", Bandwidth: 1200000, Width: 854, Height: 480, URI: "480p/index.m3u8"},
		},
		AudioLanguages:    []string{"eng", "fre"},
		SubtitleLanguages: []string{"eng"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAttributesQuotedCommas(t *testing.T) {
	attrs, err := parseAttributes(`NAME="A, B",BANDWIDTH=10,URI="x/y.m3u8"`)
	require.NoError(t, err)
	assert.Equal(t, "A, B", attrs["NAME"])
	assert.Equal(t, "10", attrs["BANDWIDTH"])
	assert.Equal(t, "x/y.m3u8", attrs["URI"])
}
