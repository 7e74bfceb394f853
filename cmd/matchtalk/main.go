package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/units61/MatchTalkV2-sub000/internal/api"
	"github.com/units61/MatchTalkV2-sub000/internal/audio"
	"github.com/units61/MatchTalkV2-sub000/internal/config"
	"github.com/units61/MatchTalkV2-sub000/internal/session"
	"github.com/units61/MatchTalkV2-sub000/internal/stream"
)

// consolePresenter is the terminal rendition of the presentation layer:
// notices become log lines, an exit request stops the process.
type consolePresenter struct {
	exit chan string
}

func (p *consolePresenter) ShowNotice(text string) {
	log.Info().Str("notice", text).Msg("room notice")
}

func (p *consolePresenter) RequestExit(reason string) {
	select {
	case p.exit <- reason:
	default:
	}
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "", "path to YAML config file")
	roomID := flag.String("room", "", "room id to enter")
	audioToken := flag.String("audio-token", "", "voice channel token")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if *roomID == "" {
		log.Fatal().Msg("-room is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.AccountID == "" {
		cfg.AccountID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var conn stream.Conn
	switch cfg.Stream.Kind {
	case config.StreamNATS:
		natsCfg := stream.DefaultNATSConfig()
		if cfg.Stream.URL != "" {
			natsCfg.URL = cfg.Stream.URL
		}
		natsCfg.SubjectPrefix = cfg.Stream.SubjectPrefix
		conn, err = stream.DialNATS(natsCfg)
	default:
		wsCfg := stream.DefaultWebSocketConfig(cfg.Stream.URL)
		wsCfg.AuthToken = cfg.API.AuthToken
		conn, err = stream.DialWebSocket(ctx, wsCfg)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect push channel")
	}
	defer conn.Close()

	transportCfg := audio.DefaultWebRTCConfig(cfg.Audio.SignalURL)
	if len(cfg.Audio.ICEServers) > 0 {
		transportCfg.ICEServers = cfg.Audio.ICEServers
	}
	transport := audio.NewWebRTCTransport(transportCfg)

	presenter := &consolePresenter{exit: make(chan string, 1)}
	loader := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken)

	coordinator := session.NewCoordinator(session.Config{
		RoomID:     *roomID,
		AccountID:  cfg.AccountID,
		AudioToken: *audioToken,
		AudioUID:   cfg.AudioUID,
	}, clockwork.NewRealClock(), loader, conn, transport, presenter)

	if err := coordinator.Enter(ctx); err != nil {
		// A fatal entry failure already queued the exit request; wait for
		// it so the user sees the notice before the process stops.
		<-presenter.exit
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			coordinator.Leave(leaveCtx)
			leaveCancel()
			return
		case reason := <-presenter.exit:
			log.Info().Str("reason", reason).Msg("exiting room")
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			coordinator.Leave(leaveCtx)
			leaveCancel()
			return
		case <-ticker.C:
			s := coordinator.Session()
			log.Info().
				Str("room", s.Name).
				Int("participants", len(s.Participants)).
				Int("time_left_sec", coordinator.TimeLeft()).
				Int("messages", len(coordinator.Messages())).
				Bool("extended", s.Extended).
				Msg("room status")
		}
	}
}
