// SPDX-License-Identifier: MIT

package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxPlaylistBytes bounds how much playlist body is read; manifests beyond
// this are corrupt or hostile.
const maxPlaylistBytes = 4 << 20

// FetchMaster retrieves and parses a master playlist.
func FetchMaster(ctx context.Context, client *http.Client, manifestURL string) (*Master, error) {
	body, err := fetch(ctx, client, manifestURL)
	if err != nil {
		return nil, err
	}
	return ParseMaster(body)
}

// FetchMedia retrieves and parses a media playlist. ref may be relative to
// the master playlist location.
func FetchMedia(ctx context.Context, client *http.Client, masterURL, ref string) (*MediaTruth, error) {
	resolved, err := ResolveReference(masterURL, ref)
	if err != nil {
		return nil, err
	}
	body, err := fetch(ctx, client, resolved)
	if err != nil {
		return nil, err
	}
	return ParseMedia(body)
}

// ResolveReference resolves a playlist URI reference against its master URL.
func ResolveReference(masterURL, ref string) (string, error) {
	base, err := url.Parse(masterURL)
	if err != nil {
		return "", fmt.Errorf("parse master url: %w", err)
	}
	target, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse playlist ref %q: %w", ref, err)
	}
	return base.ResolveReference(target).String(), nil
}

func fetch(ctx context.Context, client *http.Client, playlistURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return "", fmt.Errorf("create playlist request: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch playlist: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch playlist: unexpected status %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxPlaylistBytes))
	if err != nil {
		return "", fmt.Errorf("read playlist body: %w", err)
	}
	return string(body), nil
}
