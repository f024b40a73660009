// cmd/ratingworker/main.go is an asynchronous rating worker that pops finished
// matches from a Redis queue, resolves their match log and applies the rating
// change to PostgreSQL.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jason-s-yu/pugbot/internal/cache"
	"github.com/jason-s-yu/pugbot/internal/config"
	"github.com/jason-s-yu/pugbot/internal/database"
	"github.com/jason-s-yu/pugbot/internal/discord"
	"github.com/jason-s-yu/pugbot/internal/matchlog"
	"github.com/jason-s-yu/pugbot/internal/metrics"
	"github.com/jason-s-yu/pugbot/internal/rating"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

// popTimeout bounds each BLPop so cancellation is noticed promptly.
const popTimeout = 3 * time.Second

// jobTimeout bounds one log lookup and write.
const jobTimeout = time.Minute

// JobSource yields queued rating jobs.
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (cache.RatingJob, bool, error)
}

// Rater applies one job.
type Rater interface {
	Run(ctx context.Context, job rating.Job) (rating.Summary, error)
}

// RatingWorker drains the rating queue one job at a time, so each match is
// applied exactly once and writes never interleave.
type RatingWorker struct {
	jobs   JobSource
	rater  Rater
	logger *logrus.Logger

	ctx      context.Context
	cancelFn context.CancelFunc
}

func NewRatingWorker(parent context.Context, jobs JobSource, rater Rater, logger *logrus.Logger) *RatingWorker {
	ctx, cancel := context.WithCancel(parent)
	return &RatingWorker{
		jobs:     jobs,
		rater:    rater,
		logger:   logger,
		ctx:      ctx,
		cancelFn: cancel,
	}
}

// Run blocks until the worker is stopped.
func (w *RatingWorker) Run() {
	w.logger.Info("rating worker started")
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("rating worker shutting down")
			return
		default:
		}

		job, ok, err := w.jobs.Pop(w.ctx, popTimeout)
		if err != nil {
			if w.ctx.Err() != nil {
				continue
			}
			w.logger.WithError(err).Error("failed to pop rating job")
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		w.handle(job)
	}
}

// Stop cancels the loop; an in-flight job is abandoned at its next request.
func (w *RatingWorker) Stop() {
	w.cancelFn()
}

func (w *RatingWorker) handle(job cache.RatingJob) {
	entry := w.logger.WithFields(logrus.Fields{
		"job":   job.ID,
		"track": job.Track,
		"age":   time.Since(time.Unix(job.EnqueuedAt, 0)).Round(time.Second),
	})

	ctx, cancel := context.WithTimeout(w.ctx, jobTimeout)
	defer cancel()
	sum, err := w.rater.Run(ctx, rating.Job{Track: job.Track, TeamA: job.TeamA, TeamB: job.TeamB})
	switch {
	case errors.Is(err, rating.ErrExternalLogUnavailable):
		entry.Info("no match log found, match left unrated")
	case err != nil:
		entry.WithError(err).Error("failed to apply rating job")
	default:
		entry.WithFields(logrus.Fields{
			"log":     sum.LogID,
			"delta_a": sum.DeltaA,
			"delta_b": sum.DeltaB,
			"written": sum.Written,
		}).Info("ratings updated")
	}
}

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

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	// Announcements go out over REST only; no gateway session is opened.
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize discord client")
	}
	guild := discord.NewGuild(dg, cfg.GuildID, cfg.AuditChannelID, cfg.PugLogChannelID)

	m := metrics.New()
	if cfg.WorkerAddr != "" {
		srv := &http.Server{Addr: cfg.WorkerAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server exited")
			}
		}()
		defer srv.Close()
	}

	updater := rating.NewUpdater(
		database.NewStore(database.DB),
		matchlog.NewClient(cfg.MatchLogURL, cfg.MatchLogCacheTTL, cfg.MatchLogWindow),
		guild,
		logger,
		m,
	)

	w := NewRatingWorker(ctx, cache.NewQueue(rdb, cfg.RatingQueue), updater, logger)
	w.Run()
}
