package publish

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"quotebot/internal/content"
	"quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

// Publisher delivers an assembled post to a destination chat.
type Publisher interface {
	Publish(ctx context.Context, dest string, post content.Post) (transport.MessageRef, error)
}

// ParseDest turns a destination string into a chat target. Accepted forms:
// "@channelname" or a numeric chat id like "-1001234".
func ParseDest(dest string) (transport.ChatTarget, error) {
	d := strings.TrimSpace(dest)
	if d == "" {
		return transport.ChatTarget{}, fmt.Errorf("empty destination")
	}
	if strings.HasPrefix(d, "@") {
		if len(d) < 2 {
			return transport.ChatTarget{}, fmt.Errorf("invalid destination %q", dest)
		}
		return transport.ChatTarget{Username: d}, nil
	}
	id, err := strconv.ParseInt(d, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("invalid destination %q: %w", dest, err)
	}
	return transport.ChatTarget{ChatID: id}, nil
}

// ChannelPublisher publishes posts as photo messages with a Markdown caption.
type ChannelPublisher struct {
	adapter transport.Adapter
	log     logx.Logger
	timeout time.Duration
}

func NewChannelPublisher(adapter transport.Adapter, log logx.Logger) *ChannelPublisher {
	return &ChannelPublisher{adapter: adapter, log: log, timeout: 45 * time.Second}
}

func (p *ChannelPublisher) Publish(ctx context.Context, dest string, post content.Post) (transport.MessageRef, error) {
	target, err := ParseDest(dest)
	if err != nil {
		return transport.MessageRef{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ref, err := p.adapter.SendPhoto(sctx, target, post.ImageURL, post.Caption, &transport.SendOptions{
		ParseMode: "Markdown",
	})
	if err != nil {
		return transport.MessageRef{}, fmt.Errorf("publish to %s: %w", dest, err)
	}
	p.log.Info("post published",
		logx.String("dest", dest),
		logx.Int("message_id", ref.MessageID),
		logx.String("author", post.Author))
	return ref, nil
}
