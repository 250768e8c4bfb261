// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prog-res/streamwatch/internal/api"
	"github.com/prog-res/streamwatch/internal/config"
	"github.com/prog-res/streamwatch/internal/download"
	swlog "github.com/prog-res/streamwatch/internal/log"
	"github.com/prog-res/streamwatch/internal/player"
	"github.com/prog-res/streamwatch/internal/session"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	videoCode := flag.String("video", "", "public code of the video to watch")
	downloadQuality := flag.String("download", "", "download the video at the given quality instead of watching")
	audioLang := flag.String("audio", "", "preferred audio language")
	subtitleLang := flag.String("subtitle", "", "preferred subtitle language")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	swlog.Configure(swlog.Config{
		Level:   "info",
		Service: "streamwatch",
		Version: version,
	})
	logger := swlog.WithComponent("cli")

	if *videoCode == "" {
		logger.Fatal().
			Str(swlog.FieldEvent, "cli.usage").
			Msg("-video is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(swlog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	if cfg.LogLevel != "" {
		swlog.Configure(swlog.Config{
			Level:   cfg.LogLevel,
			Service: "streamwatch",
			Version: version,
		})
		logger = swlog.WithComponent("cli")
	}

	client := api.New(cfg.APIBase, cfg.Token)

	var code int
	if *downloadQuality != "" {
		code = runDownload(ctx, logger, cfg, client, *videoCode, *downloadQuality, *subtitleLang)
	} else {
		code = runWatch(ctx, logger, cfg, *videoCode, *audioLang, *subtitleLang)
	}
	os.Exit(code)
}

func runWatch(ctx context.Context, logger zerolog.Logger, cfg *config.Config, videoCode, audioLang, subtitleLang string) int {
	negotiator := session.NewNegotiator(session.Options{
		WSBase:       cfg.WSBase,
		Token:        cfg.Token,
		SyncInterval: cfg.SyncInterval,
		Reconnect:    cfg.Reconnect,
		NewEngine:    func() player.Engine { return player.NewHLSEngine(nil) },
	})

	sink := player.NewClockSink()
	sess, err := negotiator.Open(ctx, videoCode, sink, session.Preferences{
		AudioLanguage:    audioLang,
		SubtitleLanguage: subtitleLang,
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str(swlog.FieldEvent, "session.open_failed").
			Str(swlog.FieldVideoID, videoCode).
			Msg("failed to open watch session")
		return 1
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn().
				Err(err).
				Str(swlog.FieldEvent, "session.close_failed").
				Msg("session teardown reported an error")
		}
	}()

	select {
	case <-ctx.Done():
		return 0
	case <-sess.Ready():
	}

	watch := sess.Watch()
	logger.Info().
		Str(swlog.FieldEvent, "session.ready").
		Str(swlog.FieldVideoID, watch.VideoID).
		Str(swlog.FieldManifestURL, watch.ManifestURL).
		Float64(swlog.FieldPosition, watch.ResumePosition).
		Str(swlog.FieldQuality, watch.ResumeQuality).
		Msg("watch session ready")

	for {
		select {
		case <-ctx.Done():
			return 0
		case ev, ok := <-sess.Events():
			if !ok {
				return 0
			}
			switch ev.Kind {
			case session.EventUnsupported:
				logger.Error().
					Str(swlog.FieldEvent, "session.unsupported").
					Msg("stream format is not playable on this client")
				return 1
			case session.EventChannelClosed:
				logger.Warn().
					Str(swlog.FieldEvent, "session.channel_closed").
					Msg("control channel closed")
				if !cfg.Reconnect {
					return 0
				}
			case session.EventServerError:
				logger.Warn().
					Str(swlog.FieldEvent, "session.server_error").
					Str("message", ev.Message).
					Msg("server reported an error")
			case session.EventWatchUpdate:
				logger.Info().
					Str(swlog.FieldEvent, "session.watch_update").
					Msg("watch state updated")
			case session.EventReconnected:
				logger.Info().
					Str(swlog.FieldEvent, "session.reconnected").
					Msg("control channel reopened")
			}
		}
	}
}

func runDownload(ctx context.Context, logger zerolog.Logger, cfg *config.Config, client *api.Client, videoCode, quality, language string) int {
	details, err := client.Details(ctx, videoCode)
	if err != nil {
		logger.Error().
			Err(err).
			Str(swlog.FieldEvent, "download.details_failed").
			Str(swlog.FieldVideoID, videoCode).
			Msg("failed to fetch video details")
		return 1
	}

	options, err := client.DownloadOptions(ctx, details.ID)
	if err != nil {
		logger.Error().
			Err(err).
			Str(swlog.FieldEvent, "download.options_failed").
			Int("video_id", details.ID).
			Msg("failed to fetch download options")
		return 1
	}

	option, ok := api.Option(options, quality)
	if !ok {
		logger.Error().
			Str(swlog.FieldEvent, "download.quality_unknown").
			Str(swlog.FieldQuality, quality).
			Strs("available", optionQualities(options)).
			Msg("requested quality is not downloadable")
		return 1
	}

	manager := download.NewManager(download.Options{
		Dir:                 cfg.DownloadDir,
		Token:               cfg.Token,
		MaxParallel:         cfg.MaxParallelDownloads,
		ThrottleBytesPerSec: cfg.ThrottleBytesPerSec,
	})

	job, err := manager.Start(ctx, download.Request{
		SourceURL: option.URL,
		Title:     details.Title,
		Quality:   option.Quality,
		Language:  language,
		Extension: option.Extension,
	})
	if err != nil {
		logger.Error().
			Err(err).
			Str(swlog.FieldEvent, "download.start_failed").
			Str(swlog.FieldURL, option.URL).
			Msg("failed to start download")
		return 1
	}

	logger.Info().
		Str(swlog.FieldEvent, "download.started").
		Str(swlog.FieldJobID, job.ID).
		Str(swlog.FieldQuality, option.Quality).
		Msg("download started")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := manager.Cancel(job.ID); err != nil {
				logger.Warn().
					Err(err).
					Str(swlog.FieldEvent, "download.cancel_failed").
					Str(swlog.FieldJobID, job.ID).
					Msg("failed to cancel download")
			}
			<-job.Done()
			return 1
		case <-ticker.C:
			p := job.Progress()
			ev := logger.Info().
				Str(swlog.FieldEvent, "download.progress").
				Str(swlog.FieldJobID, job.ID).
				Int64(swlog.FieldBytes, p.Downloaded).
				Str("speed", formatSpeed(p.Speed))
			if p.Indeterminate() {
				ev.Str("percent", "indeterminate")
			} else {
				ev.Str("percent", strconv.FormatFloat(p.Percent, 'f', 1, 64) + "%").
					Dur("eta", p.ETA)
			}
			ev.Msg("download progress")
		case <-job.Done():
			p := job.Progress()
			if p.Status != download.StatusCompleted {
				logger.Error().
					Err(job.Err()).
					Str(swlog.FieldEvent, "download.failed").
					Str(swlog.FieldJobID, job.ID).
					Str("status", string(p.Status)).
					Msg("download did not complete")
				return 1
			}
			logger.Info().
				Str(swlog.FieldEvent, "download.completed").
				Str(swlog.FieldJobID, job.ID).
				Str(swlog.FieldPath, job.Path()).
				Int64(swlog.FieldBytes, p.Downloaded).
				Msg("download completed")
			return 0
		}
	}
}

func optionQualities(options []api.DownloadOption) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		out = append(out, o.Quality)
	}
	return out
}

func formatSpeed(bps float64) string {
	switch {
	case bps >= 1<<20:
		return strconv.FormatFloat(bps/(1<<20), 'f', 1, 64) + " MiB/s"
	case bps >= 1<<10:
		return strconv.FormatFloat(bps/(1<<10), 'f', 1, 64) + " KiB/s"
	default:
		return strconv.FormatFloat(bps, 'f', 0, 64) + " B/s"
	}
}
