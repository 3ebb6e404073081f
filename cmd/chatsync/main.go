// Command chatsync runs the chat room synchronization client: it connects to
// the chat server's websocket, joins the configured room, and keeps a local
// reconciled view of the room's messages, mirrored into a SQLite archive.
// A loopback HTTP listener exposes health, metrics, and a small debug API
// over the live session.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ktbchat/go-chat-sync/internal/archive"
	"github.com/ktbchat/go-chat-sync/internal/config"
	"github.com/ktbchat/go-chat-sync/internal/domain"
	httpapi "github.com/ktbchat/go-chat-sync/internal/http"
	"github.com/ktbchat/go-chat-sync/internal/observability"
	"github.com/ktbchat/go-chat-sync/internal/outbox"
	"github.com/ktbchat/go-chat-sync/internal/roomsync"
	"github.com/ktbchat/go-chat-sync/internal/sysutil"
	"github.com/ktbchat/go-chat-sync/internal/transport"
)

// version is set via ldflags during release builds.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "go-chat-sync")).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Local archive
	arch, err := archive.Open(cfg.ArchivePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ArchivePath).Msg("archive open failed")
	}
	defer func() { _ = arch.Close() }()

	// Transport
	disp := transport.NewDispatcher(logger)
	var session *roomsync.Session
	client := transport.NewClient(cfg.ServerURL, disp, logger,
		transport.WithReconnectHandler(func() {
			if session != nil {
				if err := session.Rejoin(); err != nil {
					logger.Warn().Err(err).Msg("rejoin after reconnect failed")
				}
			}
		}),
	)
	defer func() { _ = client.Close() }()

	// Outbox
	ob := outbox.New(cfg.RoomID, client, rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst), logger)

	// Room session
	session = roomsync.NewSession(cfg.RoomID, client,
		roomsync.WithLogger(logger),
		roomsync.WithPagination(roomsync.PaginationConfig{
			PageLimit:   cfg.Sync.PageLimit,
			MaxAttempts: cfg.Sync.FetchAttempts,
			BaseDelay:   cfg.Sync.FetchBaseDelay,
			MaxDelay:    cfg.Sync.FetchMaxDelay,
		}),
		roomsync.WithFlushDelay(cfg.Sync.FlushDelay),
		roomsync.WithInsertHook(func(msgs []domain.Message) {
			// Server echoes carry back the client key; settling them here
			// keeps the outbox pending set bounded.
			for i := range msgs {
				ob.Acknowledge(&msgs[i])
			}
			actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := arch.SaveBatch(actx, msgs); err != nil {
				logger.Warn().Err(err).Msg("archive write failed")
			}
		}),
		roomsync.WithParticipantsHandler(func(ps []domain.Participant) {
			logger.Info().Int("count", len(ps)).Msg("participants updated")
		}),
		roomsync.WithSessionEndedHandler(func() {
			logger.Warn().Msg("session ended by server, shutting down")
			stop()
		}),
	)
	defer func() { _ = session.Close() }()
	disp.Attach(session)

	if err := client.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Str("url", cfg.ServerURL).Msg("websocket connect failed")
	}

	// Seed the store from the archive so the room renders before the network
	// snapshot lands. The join snapshot merges over it idempotently.
	if cfg.Sync.ArchiveSeedSize > 0 {
		if seed, err := arch.LoadRecent(ctx, cfg.RoomID, cfg.Sync.ArchiveSeedSize); err != nil {
			logger.Warn().Err(err).Msg("archive seed failed")
		} else if len(seed) > 0 {
			session.HandleSnapshot(domain.RoomSnapshot{Messages: seed, HasOlder: true})
			logger.Info().Int("count", len(seed)).Msg("store seeded from archive")
		}
	}

	if err := session.Join(ctx); err != nil {
		logger.Fatal().Err(err).Str("room", cfg.RoomID).Msg("room join failed")
	}

	// Debug listener
	var srv *http.Server
	if cfg.DebugAddr != "" {
		gin.SetMode(cfg.GinMode)
		r := gin.New()
		httpapi.RegisterRoutes(r, session, ob, cfg)
		srv = &http.Server{
			Addr:              cfg.DebugAddr,
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		}
		go func() {
			logger.Info().Str("addr", cfg.DebugAddr).Msg("debug listener up")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("debug listener failed")
			}
		}()
	}

	logger.Info().Str("room", cfg.RoomID).Str("version", version).Msg("chatsync running")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("debug listener shutdown")
		}
	}
}
