// quizsync-client is a headless sync engine: it joins a room, recovers after
// drops, and logs every update it would hand to a presentation layer. Useful
// for soak-testing a room server and as a wiring reference for embedders.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/client"
	"github.com/fundraisely/quizsync/internal/room"
)

func main() {
	var (
		url           = flag.String("url", "ws://localhost:8080/ws", "room server websocket URL")
		roomID        = flag.String("room", "", "room ID to join")
		participantID = flag.String("participant", "", "participant ID (generated if empty)")
		role          = flag.String("role", "player", "role: host, player or admin")
		dataDir       = flag.String("data-dir", ".quizsync", "cache and identity directory")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *roomID == "" {
		log.Fatal().Msg("-room is required")
	}

	eng, err := client.New(client.Options{
		URL: *url,
		Nav: client.NavContext{
			RoomID:        *roomID,
			ParticipantID: *participantID,
			Role:          room.Role(*role),
		},
		DataDir: *dataDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("creating engine")
	}

	if cached, ok := eng.CachedPlayer(); ok {
		log.Info().Str("name", cached.Name).Bool("paid", cached.Paid).Msg("painting from cached player record")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	go func() {
		for u := range eng.Updates() {
			switch u := u.(type) {
			case client.ConnectionChanged:
				log.Info().Str("status", string(u.Status)).Err(u.Err).Msg("connection")
			case client.SnapshotApplied:
				log.Info().
					Str("phase", string(u.Snapshot.Phase)).
					Int("round", u.Snapshot.CurrentRound).
					Int("players", len(u.Snapshot.Players)).
					Bool("route_live", u.RouteLive).
					Msg("snapshot applied")
			case client.PhaseChanged:
				log.Info().
					Str("phase", string(u.Phase)).
					Int("round", u.Round).
					Bool("route_live", u.RouteLive).
					Msg("phase changed")
			case client.PlayersChanged:
				log.Info().Int("players", len(u.Players)).Msg("player list changed")
			case client.AdminsChanged:
				log.Info().Int("admins", len(u.Admins)).Msg("admin list changed")
			case client.TimerUpdated:
				log.Info().
					Int("round", u.Round).
					Int("seconds_left", u.SecondsLeft).
					Float64("fraction_left", u.FractionLeft).
					Msg("countdown")
			case client.SessionEnded:
				log.Warn().Str("reason", u.Reason).Msg("session cancelled, redirecting to entry")
				cancel()
			case client.SessionRejected:
				log.Warn().Str("reason", u.Reason).Msg("rejected, redirecting away")
				cancel()
			case client.SessionErrorReported:
				log.Warn().Str("message", u.Message).Msg("session error")
			}
		}
	}()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
}
