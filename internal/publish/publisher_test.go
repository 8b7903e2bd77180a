package publish

import (
	"context"
	"errors"
	"testing"

	"quotebot/internal/content"
	"quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

func TestParseDest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    transport.ChatTarget
		wantErr bool
	}{
		{"@quotes", transport.ChatTarget{Username: "@quotes"}, false},
		{"-1001234", transport.ChatTarget{ChatID: -1001234}, false},
		{" 42 ", transport.ChatTarget{ChatID: 42}, false},
		{"", transport.ChatTarget{}, true},
		{"@", transport.ChatTarget{}, true},
		{"not-a-chat", transport.ChatTarget{}, true},
	}
	for _, tc := range tests {
		got, err := ParseDest(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseDest(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDest(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDest(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

type fakeAdapter struct {
	transport.Adapter

	lastTarget  transport.ChatTarget
	lastURL     string
	lastCaption string
	sendErr     error
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, to transport.ChatTarget, photoURL, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.lastTarget, f.lastURL, f.lastCaption = to, photoURL, caption
	if f.sendErr != nil {
		return transport.MessageRef{}, f.sendErr
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 7}, nil
}

func TestChannelPublisher(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	p := NewChannelPublisher(fa, logx.Nop())
	post := content.Post{Quote: "q", Author: "a", ImageURL: "https://img/x", Caption: "cap"}

	ref, err := p.Publish(context.Background(), "-100500", post)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ref.MessageID != 7 {
		t.Fatalf("ref = %+v", ref)
	}
	if fa.lastTarget.ChatID != -100500 || fa.lastURL != "https://img/x" || fa.lastCaption != "cap" {
		t.Fatalf("adapter got %+v %q %q", fa.lastTarget, fa.lastURL, fa.lastCaption)
	}
}

func TestChannelPublisherSendError(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{sendErr: errors.New("flood wait")}
	p := NewChannelPublisher(fa, logx.Nop())
	if _, err := p.Publish(context.Background(), "@c", content.Post{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestChannelPublisherBadDest(t *testing.T) {
	t.Parallel()

	p := NewChannelPublisher(&fakeAdapter{}, logx.Nop())
	if _, err := p.Publish(context.Background(), "??", content.Post{}); err == nil {
		t.Fatal("expected error")
	}
}
