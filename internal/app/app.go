// Package app assembles the bot, its storage and optional integrations from
// a Config and runs them together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/studybot/core/bootstrap"
	"github.com/m3rciful/studybot/core/logger"
	tg "github.com/m3rciful/studybot/core/telegram"
	"github.com/m3rciful/studybot/core/telegram/sender"
	"github.com/m3rciful/studybot/core/telegram/state"
	"github.com/m3rciful/studybot/internal/adminapi"
	"github.com/m3rciful/studybot/internal/archive"
	"github.com/m3rciful/studybot/internal/bot"
	"github.com/m3rciful/studybot/internal/conversation"
	"github.com/m3rciful/studybot/internal/domain"
	"github.com/m3rciful/studybot/internal/events"
	"github.com/m3rciful/studybot/internal/notify"
	"github.com/m3rciful/studybot/internal/storage/sqlstore"
	"github.com/m3rciful/studybot/internal/workflow"
)

// App is a fully wired bot.
type App struct {
	cfg *Config

	db       *sqlx.DB
	redis    *redis.Client
	kafka    *events.KafkaPublisher
	tb       *tele.Bot
	disp     *sender.Dispatcher
	reg      *tg.Registry
	handlers *bot.Handlers
	sessions *state.Manager
	api      *adminapi.Server
}

// Build connects every dependency. On failure whatever was opened is closed.
func Build(ctx context.Context, cfg *Config) (_ *App, err error) {
	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	boot, err := bootstrap.Run(ctx, bootstrap.Options{
		Logging:  cfg.Logging,
		Database: cfg.Database,
		Migrate:  sqlstore.Migrate,
	})
	if err != nil {
		return nil, err
	}
	a.db = boot.DB
	store := sqlstore.New(a.db)

	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled() {
		if a.kafka, err = events.NewKafkaPublisher(cfg.Kafka); err != nil {
			return nil, err
		}
		publisher = a.kafka
	}

	a.disp = sender.NewDispatcher(sender.Options{})
	if a.tb, err = tg.NewBot(&cfg.Config, bot.OnError); err != nil {
		return nil, err
	}
	notifier := notify.New(bot.NewMessenger(a.tb, a.disp), notify.WithDelay(cfg.Broadcast.Delay()))

	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.Enabled() {
		if archiver, err = archive.NewMinioArchiver(ctx, cfg.Archive, bot.NewFetcher(a.tb)); err != nil {
			return nil, err
		}
	}

	wf := workflow.New(workflow.Deps{
		Store:     store,
		Notifier:  notifier,
		Operators: domain.NewOperatorSet(cfg.Operators()...),
		Events:    publisher,
		Archive:   archiver,
	})

	sessionStore, err := a.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	a.sessions = state.NewManager(sessionStore, state.WithIdleTimeout(cfg.Session.IdleTimeout))

	a.handlers = bot.New(wf, conversation.New(wf, a.sessions, notifier))
	a.reg = tg.NewRegistry()
	if err := a.handlers.Register(a.reg); err != nil {
		return nil, fmt.Errorf("app: register handlers: %w", err)
	}

	if cfg.API.Enabled() {
		a.api = adminapi.New(cfg.API, wf)
	}

	logger.Info(ctx, "app", "build",
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("sessions", cfg.Session.Backend),
		slog.Bool("kafka", a.kafka != nil),
		slog.Bool("archive", cfg.Archive.Enabled()),
		slog.Bool("admin_api", a.api != nil),
		slog.Int("operators", len(cfg.Operators())),
	)
	return a, nil
}

func (a *App) sessionStore(ctx context.Context) (state.Store, error) {
	if a.cfg.Session.Backend != SessionRedis {
		return state.NewMemoryStore(), nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	return state.NewRedisStore(a.redis, a.cfg.Redis.Prefix, a.cfg.Session.IdleTimeout), nil
}

// Run serves Telegram updates, the admin API and the session sweeper until
// ctx is cancelled or one of them fails, then releases every resource.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The other services only live as long as the bot.
		defer cancel()
		return tg.RunTelegram(gCtx, tg.RunOptions{
			Config:      &a.cfg.Config,
			Registry:    a.reg,
			Bot:         a.tb,
			Dispatcher:  a.disp,
			Middlewares: a.handlers.Middlewares(&a.cfg.Config),
			Routes:      a.handlers.Routes(a.reg),
		})
	})
	if a.api != nil {
		g.Go(func() error { return a.api.Run(gCtx) })
	}
	if a.cfg.Session.Backend == SessionMemory {
		g.Go(func() error {
			return state.NewSweeper(a.sessions, a.cfg.Session.SweepInterval).Run(gCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, a.close())
}

func (a *App) close() error {
	var errs []error
	if a.disp != nil {
		a.disp.Close()
	}
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// Migrate applies the schema and exits.
func Migrate(ctx context.Context, cfg *Config) error {
	boot, err := bootstrap.Run(ctx, bootstrap.Options{
		Logging:  cfg.Logging,
		Database: cfg.Database,
		Migrate:  sqlstore.Migrate,
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "app", "migrate.done", slog.String("driver", cfg.Database.Driver))
	return boot.DB.Close()
}
