// SPDX-License-Identifier: MIT

// watchsim is a loopback platform simulator for development and manual
// testing: it serves the REST endpoints, the watch control channel, a small
// HLS manifest tree, and downloadable bodies, all from memory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swlog "github.com/prog-res/streamwatch/internal/log"
	"github.com/prog-res/streamwatch/internal/protocol"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

// segmentInfoFrame adds the envelope type to the pushed resume state.
type segmentInfoFrame struct {
	Type string `json:"type"`
	protocol.SegmentInfo
}

type watchUpdateFrame struct {
	Type string `json:"type"`
	protocol.WatchUpdate
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// store keeps per-video persisted watch state and the connections watching
// each video, so an update from one device echoes to the others.
type store struct {
	mu    sync.Mutex
	state map[string]protocol.PlaybackState
	conns map[string]map[*websocket.Conn]chan []byte
}

func newStore() *store {
	return &store{
		state: make(map[string]protocol.PlaybackState),
		conns: make(map[string]map[*websocket.Conn]chan []byte),
	}
}

func (s *store) resume(videoID string) protocol.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[videoID]; ok {
		return st
	}
	return protocol.PlaybackState{Quality: "auto", Speed: 1.0, Volume: 1.0}
}

func (s *store) persist(videoID string, st protocol.PlaybackState, from *websocket.Conn) {
	s.mu.Lock()
	s.state[videoID] = st
	var peers []chan []byte
	for conn, ch := range s.conns[videoID] {
		if conn != from {
			peers = append(peers, ch)
		}
	}
	s.mu.Unlock()

	frame, err := json.Marshal(watchUpdateFrame{
		Type: protocol.TypeWatchUpdate,
		WatchUpdate: protocol.WatchUpdate{
			Position: st.Position,
			Quality:  st.Quality,
			Speed:    st.Speed,
			Volume:   st.Volume,
			VideoID:  videoID,
		},
	})
	if err != nil {
		return
	}
	for _, ch := range peers {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (s *store) subscribe(videoID string, conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 8)
	s.mu.Lock()
	if s.conns[videoID] == nil {
		s.conns[videoID] = make(map[*websocket.Conn]chan []byte)
	}
	s.conns[videoID][conn] = ch
	s.mu.Unlock()
	return ch
}

func (s *store) unsubscribe(videoID string, conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns[videoID], conn)
	s.mu.Unlock()
}

type simulator struct {
	store    *store
	token    string
	upgrader websocket.Upgrader
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", ":8090", "listen address")
	token := flag.String("token", "", "required bearer/query token; empty disables auth")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	swlog.Configure(swlog.Config{
		Level:   "info",
		Service: "watchsim",
		Version: version,
	})
	logger := swlog.WithComponent("watchsim")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := &simulator{
		store: newStore(),
		token: *token,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/videos", func(r chi.Router) {
		r.Get("/{code}/details/", sim.handleDetails)
		r.Get("/{id}/download/", sim.handleDownloadOptions)
	})
	r.Get("/ws/videowatch/{videoID}/", sim.handleWatch)
	r.Get("/media/{videoID}/master.m3u8", sim.handleMaster)
	r.Get("/media/{videoID}/{rendition}/index.m3u8", sim.handleMedia)
	r.Get("/files/{videoID}/{name}", sim.handleFile)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().
				Err(err).
				Str(swlog.FieldEvent, "watchsim.shutdown_failed").
				Msg("server shutdown failed")
		}
	}()

	logger.Info().
		Str(swlog.FieldEvent, "watchsim.listening").
		Str("addr", *addr).
		Msg("simulator listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().
			Err(err).
			Str(swlog.FieldEvent, "watchsim.serve_failed").
			Msg("server exited")
	}
}

func (s *simulator) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.token {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.token
}

func (s *simulator) handleDetails(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	code := chi.URLParam(r, "code")
	writeJSON(w, map[string]any{
		"id":                   1,
		"titre":                "Simulated feature " + code,
		"description":          "Loopback fixture served by watchsim.",
		"duration":             "00:02:00",
		"qualite":              "1080p",
		"qualites_disponibles": []string{"1080p", "720p", "480p"},
		"audio_languages":      []string{"eng", "fre"},
		"subtitle_languages":   []string{"eng"},
		"likes_count":          3,
		"dislikes_count":       0,
	})
}

func (s *simulator) handleDownloadOptions(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "id")
	base := "http://" + r.Host + "/files/" + id
	writeJSON(w, map[string]any{
		"qualities": []map[string]any{
			{"quality": "1080p", "url": base + "/1080p.mp4", "taille": int64(len(fileBody("1080p"))), "extension": "mp4"},
			{"quality": "720p", "url": base + "/720p.mp4", "taille": int64(len(fileBody("720p"))), "extension": "mp4"},
			{"quality": "480p", "url": base + "/480p.mp4?chunked=1", "taille": 0, "extension": "mp4"},
		},
	})
}

func (s *simulator) handleWatch(w http.ResponseWriter, r *http.Request) {
	logger := swlog.WithComponent("watchsim.channel")
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	videoID := chi.URLParam(r, "videoID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	outbox := s.store.subscribe(videoID, conn)
	defer s.store.unsubscribe(videoID, conn)

	st := s.store.resume(videoID)
	frame := segmentInfoFrame{
		Type: protocol.TypeSegmentInfo,
		SegmentInfo: protocol.SegmentInfo{
			ManifestURL:       "http://" + r.Host + "/media/" + videoID + "/master.m3u8",
			LastPosition:      st.Position,
			LastVolume:        st.Volume,
			LastPlaybackSpeed: st.Speed,
			LastQuality:       st.Quality,
			Qualities: []protocol.QualityOption{
				{Name: "1080p", Resolution: "1920x1080", Bandwidth: "5000000"},
				{Name: "720p", Resolution: "1280x720", Bandwidth: "2800000"},
				{Name: "480p", Resolution: "854x480", Bandwidth: "1200000"},
			},
			AudioTracks:    []protocol.Track{{Language: "eng"}, {Language: "fre"}},
			SubtitleTracks: []protocol.Track{{Language: "eng"}},
			Metadata: &protocol.Metadata{
				FPS: 25, Width: 1920, Height: 1080, Duration: 120, Size: 48 << 20,
			},
		},
	}
	if err := conn.WriteJSON(frame); err != nil {
		return
	}
	logger.Info().
		Str(swlog.FieldEvent, "channel.opened").
		Str(swlog.FieldVideoID, videoID).
		Msg("control channel opened")

	// Writer: the reader goroutine below owns ReadMessage; peer echoes and
	// error replies go through outbox so only one goroutine writes.
	done := make(chan struct{})
	defer close(done)
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case frame := <-outbox:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case data := <-inbound:
			state, err := protocol.DecodeUpdate(data)
			if err != nil {
				reply, _ := json.Marshal(errorFrame{Type: protocol.TypeError, Message: err.Error()})
				if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
					return
				}
				continue
			}
			s.store.persist(videoID, *state, conn)
			logger.Debug().
				Str(swlog.FieldEvent, "channel.update_persisted").
				Str(swlog.FieldVideoID, videoID).
				Float64(swlog.FieldPosition, state.Position).
				Str(swlog.FieldQuality, state.Quality).
				Msg("persisted playback state")
		case err := <-readErr:
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().
					Err(err).
					Str(swlog.FieldEvent, "channel.read_ended").
					Str(swlog.FieldVideoID, videoID).
					Msg("control channel read ended")
			}
			return
		}
	}
}

func (s *simulator) handleMaster(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString(`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="eng",DEFAULT=YES,URI="eng/index.m3u8"` + "\n")
	b.WriteString(`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="Francais",LANGUAGE="fre",URI="fre/index.m3u8"` + "\n")
	b.WriteString(`#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="sub",NAME="English",LANGUAGE="eng",URI="sub-eng/index.m3u8"` + "\n")
	for _, v := range []struct {
		name, res string
		bw        int
	}{
		{"1080p", "1920x1080", 5000000},
		{"720p", "1280x720", 2800000},
		{"480p", "854x480", 1200000},
	} {
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,NAME=\"%s\",AUDIO=\"aud\",SUBTITLES=\"sub\"\n", v.bw, v.res, v.name))
		b.WriteString(v.name + "/index.m3u8\n")
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(b.String()))
}

func (s *simulator) handleMedia(w http.ResponseWriter, r *http.Request) {
	rendition := chi.URLParam(r, "rendition")
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := 0; i < 20; i++ {
		b.WriteString("#EXTINF:6.000,\n")
		b.WriteString(fmt.Sprintf("%s_%03d.ts\n", rendition, i))
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(b.String()))
}

// handleFile serves a synthetic download body. With ?chunked=1 the response
// is flushed per chunk and carries no Content-Length, so clients must treat
// the transfer as indeterminate.
func (s *simulator) handleFile(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	name := strings.TrimSuffix(chi.URLParam(r, "name"), ".mp4")
	body := fileBody(name)

	w.Header().Set("Content-Type", "video/mp4")
	if r.URL.Query().Get("chunked") == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		_, _ = w.Write(body)
		return
	}
	const chunk = 4 << 10
	for off := 0; off < len(body); off += chunk {
		end := off + chunk
		if end > len(body) {
			end = len(body)
		}
		if _, err := w.Write(body[off:end]); err != nil {
			return
		}
		flusher.Flush()
	}
}

func fileBody(quality string) []byte {
	sizes := map[string]int{"1080p": 256 << 10, "720p": 128 << 10, "480p": 64 << 10}
	size, ok := sizes[quality]
	if !ok {
		size = 32 << 10
	}
	body := make([]byte, size)
	seed := []byte(quality)
	for i := range body {
		body[i] = seed[i%len(seed)] ^ byte(i)
	}
	return body
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
