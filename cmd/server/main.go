// cmd/server/main.go
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jason-s-yu/pugbot/internal/balance"
	"github.com/jason-s-yu/pugbot/internal/cache"
	"github.com/jason-s-yu/pugbot/internal/config"
	"github.com/jason-s-yu/pugbot/internal/database"
	"github.com/jason-s-yu/pugbot/internal/discipline"
	"github.com/jason-s-yu/pugbot/internal/discord"
	"github.com/jason-s-yu/pugbot/internal/handlers"
	"github.com/jason-s-yu/pugbot/internal/metrics"
	"github.com/jason-s-yu/pugbot/internal/middleware"
	"github.com/jason-s-yu/pugbot/internal/proposal"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.ConnectDB(ctx, cfg.PostgresURL()); err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer database.DB.Close()
	store := database.NewStore(database.DB)

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()
	queue := cache.NewQueue(rdb, cfg.RatingQueue)

	pubKey, err := hex.DecodeString(cfg.DiscordPublicKey)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		logger.WithError(err).Fatal("failed to parse discord public key")
	}

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize discord client")
	}
	// The gateway connection only feeds the state cache; voice occupancy and
	// member roles are read from it when drafting.
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMembers
	dg.State.TrackVoice = true
	dg.State.TrackMembers = true
	dg.State.TrackRoles = true
	if err := dg.Open(); err != nil {
		logger.WithError(err).Fatal("failed to open discord gateway")
	}
	defer dg.Close()

	var botID string
	if dg.State.User != nil {
		botID = dg.State.User.ID
	}

	m := metrics.New()
	guild := discord.NewGuild(dg, cfg.GuildID, cfg.AuditChannelID, cfg.PugLogChannelID)

	roster := discord.NewRoster(dg.State, cfg.GuildID)
	proposals := proposal.NewManager(proposal.Deps{
		Roster:          roster,
		Pools:           &balance.PoolBuilder{Records: store, Bans: store},
		Balancer:        balance.New(nil),
		Mover:           guild,
		Recorder:        store,
		Queue:           queue,
		Logger:          logger,
		Metrics:         m,
		ProposalTimeout: cfg.ProposalTimeout,
		UndoTimeout:     cfg.UndoTimeout,
	})

	machine := discipline.NewMachine(discipline.Deps{
		Store:    store,
		Comments: store,
		Notifier: guild,
		Roles:    guild,
		RoleIDs:  cfg.Roles,
		Logger:   logger,
		Metrics:  m,
		GuildID:  cfg.GuildID,
		BotID:    botID,
	})
	hour, minute, err := cfg.SweepClock()
	if err != nil {
		logger.WithError(err).Fatal("invalid sweep time")
	}
	scheduler := discipline.NewScheduler(machine, hour, minute, logger)
	scheduler.Start()
	defer scheduler.Stop()

	bot := handlers.NewBot(handlers.BotDeps{
		PublicKey:  ed25519.PublicKey(pubKey),
		Config:     cfg,
		Discipline: machine,
		Proposals:  proposals,
		Players:    store,
		Roles:      guild,
		Roster:     roster,
		Notifier:   guild,
		Followup:   dg,
		Logger:     logger,
		Metrics:    m,
	})
	if err := handlers.RegisterCommands(ctx, dg, cfg.DiscordAppID, cfg.GuildID); err != nil {
		logger.WithError(err).Fatal("failed to register slash commands")
	}

	mux := http.NewServeMux()
	mux.Handle("/interactions", middleware.LogMiddleware(logger)(bot.InteractionHandler()))
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown")
		}
	}()

	logger.Infof("Running on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("server exited")
	}
	logger.Info("pugbot shutting down")
}
