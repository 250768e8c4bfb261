// SPDX-License-Identifier: MIT

// Package api is a thin client for the platform REST API, limited to what
// the playback core consumes: video details and download options.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client for the given API base URL. token may be empty for
// anonymous access.
func New(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// VideoDetails is the metadata subset the watch session needs.
type VideoDetails struct {
	ID                int      `json:"id"`
	Title             string   `json:"titre"`
	Description       string   `json:"description"`
	Duration          string   `json:"duration"`
	Quality           string   `json:"qualite"`
	AvailableQualites []string `json:"qualites_disponibles"`
	AudioLanguages    []string `json:"audio_languages"`
	SubtitleLanguages []string `json:"subtitle_languages"`
	LikesCount        int      `json:"likes_count"`
	DislikesCount     int      `json:"dislikes_count"`
}

// DownloadOption is one downloadable rendition of a video.
type DownloadOption struct {
	Quality   string `json:"quality"`
	URL       string `json:"url"`
	Size      int64  `json:"taille"`
	Extension string `json:"extension"`
}

// Details fetches video metadata by public code.
func (c *Client) Details(ctx context.Context, code string) (*VideoDetails, error) {
	var out VideoDetails
	if err := c.get(ctx, "/videos/"+url.PathEscape(code)+"/details/", &out); err != nil {
		return nil, fmt.Errorf("video details: %w", err)
	}
	return &out, nil
}

// DownloadOptions fetches the downloadable renditions for a video.
func (c *Client) DownloadOptions(ctx context.Context, videoID int) ([]DownloadOption, error) {
	var p struct {
		Qualities []DownloadOption `json:"qualities"`
	}
	if err := c.get(ctx, fmt.Sprintf("/videos/%d/download/", videoID), &p); err != nil {
		return nil, fmt.Errorf("download options: %w", err)
	}
	return p.Qualities, nil
}

// Option returns the download option matching the quality label.
func Option(options []DownloadOption, quality string) (DownloadOption, bool) {
	for _, o := range options {
		if o.Quality == quality {
			return o, true
		}
	}
	return DownloadOption{}, false
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
