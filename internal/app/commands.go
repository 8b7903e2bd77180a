package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quotebot/internal/config"
	"quotebot/internal/review"
	"quotebot/internal/router"
	"quotebot/internal/scheduler"
	"quotebot/internal/storage"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
	"quotebot/pkg/tgui"
)

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "post_now",
			Description: "publish a quote post immediately",
			Usage:       "/post_now",
			Access:      router.AccessOwnerOnly,
			Timeout:     90 * time.Second,
			Handle:      a.handlePostNow,
		},
		{
			Name:        "preview",
			Description: "fetch a post and hold it for approval",
			Usage:       "/preview",
			Access:      router.AccessOwnerOnly,
			Timeout:     90 * time.Second,
			Handle:      a.handlePreview,
		},
		{
			Name:        "set_time",
			Description: "set the daily posting time",
			Usage:       "/set_time HH:MM [timezone]",
			Access:      router.AccessOwnerOnly,
			Handle:      a.handleSetTime,
		},
		{
			Name:        "set_freq",
			Description: "post N times per day (1-24)",
			Usage:       "/set_freq N",
			Access:      router.AccessOwnerOnly,
			Handle:      a.handleSetFreq,
		},
		{
			Name:        "stop",
			Description: "stop the posting schedule",
			Usage:       "/stop",
			Access:      router.AccessOwnerOnly,
			Handle:      a.handleStop,
		},
		{
			Name:        "status",
			Description: "show schedule and pending reviews",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle:      a.handleStatus,
		},
		{
			Name:        "get_logs",
			Description: "show recent warnings and errors",
			Usage:       "/get_logs",
			Access:      router.AccessOwnerOnly,
			Handle:      a.handleGetLogs,
		},
	}
}

func (a *App) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{
			Scope:   "review",
			Action:  "approve",
			Access:  router.CallbackAccessOwnerOnly,
			Timeout: 60 * time.Second,
			Handle:  a.handleApprove,
		},
	}
}

func (a *App) audit(ctx context.Context, req *router.Request, action, target string, start time.Time, err error) {
	if a.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:      time.Now(),
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Action:  action,
		Target:  target,
		TookMS:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := a.store.AppendAudit(ctx, e); aerr != nil {
		a.log.Debug("audit not persisted", logx.Err(aerr))
	}
}

func (a *App) reply(ctx context.Context, req *router.Request, text string) {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func (a *App) handlePostNow(ctx context.Context, req *router.Request) error {
	start := time.Now()

	mode := "direct"
	if cfg := a.cfgm.Get(); cfg != nil && strings.TrimSpace(cfg.Review.PostNow) != "" {
		mode = strings.TrimSpace(cfg.Review.PostNow)
	}
	if mode == "review" {
		return a.handlePreview(ctx, req)
	}

	err := a.postAction("direct")(ctx)
	a.audit(ctx, req, "post_now", a.channel(), start, err)
	if err != nil {
		a.reply(ctx, req, "publish failed: "+tgui.Esc(err.Error()).String())
		return err
	}
	a.reply(ctx, req, "published to "+tgui.Code(a.channel()).String())
	return nil
}

func (a *App) handlePreview(ctx context.Context, req *router.Request) error {
	start := time.Now()

	post, err := a.nextPost(ctx)
	if err != nil {
		a.audit(ctx, req, "preview", a.channel(), start, err)
		a.reply(ctx, req, "fetch failed: "+tgui.Esc(err.Error()).String())
		return err
	}

	item, err := a.reviews.Add(a.channel(), post)
	if err != nil {
		a.audit(ctx, req, "preview", a.channel(), start, err)
		return err
	}

	markup := tgui.NewInline().
		Row(tgui.Btn("✅ Approve", tgui.Data("review", "approve", item.Token))).
		Markup()

	ref, err := req.Adapter.SendPhoto(ctx, req.Chat, post.ImageURL, post.Caption, &kit.SendOptions{
		ParseMode:          "Markdown",
		ReplyMarkupAdapter: markup,
	})
	a.audit(ctx, req, "preview", a.channel(), start, err)
	if err != nil {
		a.reply(ctx, req, "preview failed: "+tgui.Esc(err.Error()).String())
		return err
	}
	a.reviews.SetPreviewRef(item.Token, ref)
	return nil
}

func (a *App) handleSetTime(ctx context.Context, req *router.Request) error {
	start := time.Now()
	if len(req.Args) < 1 {
		a.reply(ctx, req, "usage: <code>/set_time HH:MM [timezone]</code>")
		return nil
	}

	hour, minute, err := config.ParseClock(req.Args[0])
	if err != nil {
		a.reply(ctx, req, "invalid time, want <code>HH:MM</code>")
		return nil
	}

	tz := ""
	if len(req.Args) >= 2 {
		tz = req.Args[1]
	} else if cfg := a.cfgm.Get(); cfg != nil {
		_, _, tz, _ = cfg.ScheduleClock()
	}

	trigger := scheduler.DailyAt(hour, minute, tz)
	err = a.sched.Arm(a.channel(), defaultJobName, trigger, a.postAction("scheduled"))
	a.audit(ctx, req, "set_time", trigger.String(), start, err)
	if err != nil {
		if errorsIsAny(err, scheduler.ErrInvalidTrigger) {
			a.reply(ctx, req, "invalid schedule: "+tgui.Esc(err.Error()).String())
			return nil
		}
		return err
	}
	msg := fmt.Sprintf("daily post set to <b>%02d:%02d</b> %s", hour, minute, tgui.Esc(tz))
	if info, gerr := a.sched.Get(a.channel()); gerr == nil && !info.NextAt.IsZero() {
		msg += "\nnext fire: " + tgui.Code(info.NextAt.Format(time.RFC3339)).String()
	}
	a.reply(ctx, req, msg)
	return nil
}

func (a *App) handleSetFreq(ctx context.Context, req *router.Request) error {
	start := time.Now()
	if len(req.Args) < 1 {
		a.reply(ctx, req, "usage: <code>/set_freq N</code> (1-24 posts per day)")
		return nil
	}
	n, err := strconv.Atoi(req.Args[0])
	if err != nil {
		a.reply(ctx, req, "usage: <code>/set_freq N</code> (1-24 posts per day)")
		return nil
	}

	trigger, err := scheduler.FrequencyInterval(n)
	if err != nil {
		a.reply(ctx, req, "posts per day must be between 1 and 24")
		return nil
	}

	err = a.sched.Arm(a.channel(), "freq-quote", trigger, a.postAction("scheduled"))
	a.audit(ctx, req, "set_freq", trigger.String(), start, err)
	if err != nil {
		return err
	}
	a.reply(ctx, req, fmt.Sprintf("posting %d time(s) per day (every %s)", n, trigger.Interval))
	return nil
}

func (a *App) handleStop(ctx context.Context, req *router.Request) error {
	start := time.Now()
	removed := a.sched.Disarm(a.channel())
	a.audit(ctx, req, "stop", a.channel(), start, nil)
	if removed {
		a.reply(ctx, req, "schedule stopped")
	} else {
		a.reply(ctx, req, "nothing was scheduled")
	}
	return nil
}

func (a *App) handleStatus(ctx context.Context, req *router.Request) error {
	snap := a.sched.Snapshot()

	var b strings.Builder
	b.WriteString(tgui.B("Schedule").String())
	b.WriteString("\n")
	if len(snap) == 0 {
		b.WriteString("no jobs armed\n")
	}
	for _, j := range snap {
		fmt.Fprintf(&b, "%s → %s (%s, fired %d)\n",
			tgui.Code(j.Dest), tgui.Esc(j.Trigger), j.Status, j.FireCount)
		if !j.NextAt.IsZero() {
			fmt.Fprintf(&b, "  next: %s\n", tgui.Esc(j.NextAt.Format(time.RFC3339)))
		}
		if !j.LastFired.IsZero() {
			fmt.Fprintf(&b, "  last: %s\n", tgui.Esc(j.LastFired.Format(time.RFC3339)))
		}
		if j.LastErr != "" {
			fmt.Fprintf(&b, "  last error: %s\n", tgui.Esc(j.LastErr))
		}
	}
	if n := a.reviews.Pending(); n > 0 {
		fmt.Fprintf(&b, "\n%s: %d\n", tgui.B("Pending reviews"), n)
	}

	a.reply(ctx, req, b.String())
	return nil
}

func (a *App) handleGetLogs(ctx context.Context, req *router.Request) error {
	lines := a.logs.Recent()
	if len(lines) == 0 {
		a.reply(ctx, req, "no recent warnings")
		return nil
	}

	// Newest lines, bounded so the <pre> block fits a single message.
	const budget = 3500
	total := 0
	first := len(lines)
	for first > 0 && total+len(lines[first-1])+1 <= budget {
		first--
		total += len(lines[first]) + 1
	}
	text := strings.Join(lines[first:], "\n")

	a.reply(ctx, req, tgui.Pre(text).String())
	return nil
}

func (a *App) handleApprove(ctx context.Context, req *router.Request, token string) error {
	start := time.Now()

	item, _ := a.reviews.Get(token)
	ref, err := a.reviews.Approve(ctx, token)
	a.audit(ctx, req, "approve", token, start, err)

	switch {
	case err == nil:
		a.recordPost(ctx, item.Post, ref, "review")
		if item.PreviewRef.MessageID != 0 {
			capErr := req.Adapter.EditCaption(ctx, item.PreviewRef,
				item.Post.Caption+"\n\n✅ Published", &kit.SendOptions{ParseMode: "Markdown"})
			if capErr != nil {
				req.Logger.Debug("preview caption not updated", logx.Err(capErr))
			}
		}
		return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "published")
	case errorsIsAny(err, review.ErrAlreadyPublished):
		return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "already published")
	case errorsIsAny(err, review.ErrNotFound):
		return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "unknown or expired")
	default:
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "publish failed, try again")
		return err
	}
}
