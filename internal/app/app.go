package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"quotebot/internal/config"
	"quotebot/internal/content"
	"quotebot/internal/eventbus"
	"quotebot/internal/publish"
	"quotebot/internal/review"
	"quotebot/internal/router"
	"quotebot/internal/runtime/supervisor"
	"quotebot/internal/scheduler"
	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
	"quotebot/internal/transport/telegram"
	logx "quotebot/pkg/logx"
)

// defaultJobName is the registry name of the schedule armed from config.
const defaultJobName = "daily-quote"

// dedupWindow is how long a published quote blocks itself from repeating.
const dedupWindow = 7 * 24 * time.Hour

type App struct {
	log  logx.Logger
	logs *logx.Service
	cfgm *config.Manager
	bus  eventbus.Bus
	sup  *supervisor.Supervisor

	adapter   *telegram.Adapter
	router    *router.Manager
	sched     *scheduler.Service
	source    *content.QuoteSource
	publisher publish.Publisher
	reviews   *review.Service
	store     storage.Store

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Memory:  logx.MemoryConfig{Size: cfg.Logging.Memory.Size, MinLevel: cfg.Logging.Memory.MinLevel},
	})

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		return c.Validate()
	})

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = logs.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	source := content.NewQuoteSource(
		content.WithQuoteURL(cfg.Content.QuoteURL),
		content.WithAd(cfg.Content.AdText, cfg.Content.AdLink),
	)
	publisher := publish.NewChannelPublisher(adapter, log.With(logx.String("comp", "publish")))

	bus := eventbus.New()

	a := &App{
		log:       log,
		logs:      logs,
		cfgm:      cfgm,
		bus:       bus,
		adapter:   adapter,
		router:    router.NewManager(log.With(logx.String("comp", "router")), adapter, cfg.Telegram.OwnerUserIDs),
		sched:     scheduler.New(log.With(logx.String("comp", "scheduler")), bus, scheduler.Options{}),
		source:    source,
		publisher: publisher,
		reviews:   review.New(publisher, log.With(logx.String("comp", "review"))),
		store:     store,
	}
	return a, nil
}

// Logger exposes the root logger for main.
func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "app"))))
	a.updates = make(chan kit.Update, 64)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.router.Register(a.commands(), a.callbacks())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("config.reload", a.reloadLoop)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.armDefaultSchedule(a.cfgm.Get()); err != nil {
		// The bot still runs; operators can fix the schedule via commands.
		a.log.Error("default schedule not armed", logx.Err(err))
	}

	a.log.Info("app started", logx.String("channel", a.channel()))
	return nil
}

// Stop shuts components down in order, each with its own slice of the
// remaining deadline.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	step := func(name string, d time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	step("adapter", 5*time.Second, a.adapter.Stop)
	step("scheduler", 10*time.Second, a.sched.Stop)
	if a.sup != nil {
		step("supervisor", 5*time.Second, a.sup.Stop)
	}
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}
	_ = a.logs.Close()
	return firstErr
}

func (a *App) channel() string {
	if cfg := a.cfgm.Get(); cfg != nil {
		return cfg.Telegram.Channel
	}
	return ""
}

func (a *App) armDefaultSchedule(cfg *config.Config) error {
	hour, minute, tz, err := cfg.ScheduleClock()
	if err != nil {
		return err
	}
	return a.sched.Arm(cfg.Telegram.Channel, defaultJobName,
		scheduler.DailyAt(hour, minute, tz), a.postAction("scheduled"))
}

// postAction builds the action that assembles and publishes one post.
func (a *App) postAction(mode string) scheduler.Action {
	return func(ctx context.Context) error {
		post, err := a.nextPost(ctx)
		if err != nil {
			return err
		}
		ref, err := a.publisher.Publish(ctx, a.channel(), post)
		if err != nil {
			return err
		}
		a.recordPost(ctx, post, ref, mode)
		return nil
	}
}

// nextPost fetches a quote, skipping ones published within the dedup window.
func (a *App) nextPost(ctx context.Context) (content.Post, error) {
	const attempts = 3
	var post content.Post
	for i := 0; i < attempts; i++ {
		p, err := a.source.Next(ctx)
		if err != nil {
			return content.Post{}, err
		}
		post = p
		if a.store == nil {
			return post, nil
		}
		key := quoteKey(p.Quote)
		if _, seen, err := a.store.GetDedup(ctx, key); err == nil && seen {
			a.log.Debug("quote seen recently, refetching", logx.Int("attempt", i+1))
			continue
		}
		_ = a.store.PutDedup(ctx, key, time.Now().Add(dedupWindow))
		return post, nil
	}
	// All attempts were repeats; post the last one rather than nothing.
	return post, nil
}

func (a *App) recordPost(ctx context.Context, post content.Post, ref kit.MessageRef, mode string) {
	a.bus.Publish(eventbus.Event{Type: eventbus.EventPostPublished, Data: map[string]any{
		"dest":   a.channel(),
		"author": post.Author,
		"mode":   mode,
	}})
	if a.store == nil {
		return
	}
	err := a.store.AppendPost(ctx, storage.PostRecord{
		At:        time.Now(),
		Dest:      a.channel(),
		Quote:     post.Quote,
		Author:    post.Author,
		MessageID: ref.MessageID,
		Mode:      mode,
	})
	if err != nil {
		a.log.Warn("post record not persisted", logx.Err(err))
	}
}

func quoteKey(quote string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(quote))
	return fmt.Sprintf("quote:%x", h.Sum64())
}

// reloadLoop applies validated config updates published by the watcher.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.applyReload(prev, cfg)
			prev = cfg
		}
	}
}

func (a *App) applyReload(prev, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Memory:  logx.MemoryConfig{Size: cfg.Logging.Memory.Size, MinLevel: cfg.Logging.Memory.MinLevel},
	})
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.source.SetAd(cfg.Content.AdText, cfg.Content.AdLink)

	if prev != nil {
		if prev.Telegram.Token != cfg.Telegram.Token || prev.Telegram.PollTimeout != cfg.Telegram.PollTimeout {
			a.log.Warn("telegram settings changed; restart required to apply")
		}
		if !storageEqual(prev.Storage, cfg.Storage) {
			a.log.Warn("storage settings changed; restart required to apply")
		}
		if prev.Content.QuoteURL != cfg.Content.QuoteURL {
			a.log.Warn("content.quote_url changed; restart required to apply")
		}
		scheduleChanged := prev.Schedule != cfg.Schedule || prev.Telegram.Channel != cfg.Telegram.Channel
		if scheduleChanged {
			if err := a.armDefaultSchedule(cfg); err != nil {
				a.log.Error("schedule not re-armed", logx.Err(err))
			}
			if prev.Telegram.Channel != cfg.Telegram.Channel {
				// The old channel keeps no job once the destination moves.
				a.sched.Disarm(prev.Telegram.Channel)
			}
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.EventConfigReload})
	a.log.Info("config applied")
}

func storageEqual(x, y *config.StorageConfig) bool {
	if x == nil || y == nil {
		return x == y
	}
	return *x == *y
}

// errorsIsAny reports whether err matches any of the targets.
func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
