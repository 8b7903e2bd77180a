package review

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"quotebot/internal/content"
	"quotebot/internal/publish"
	"quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

var (
	ErrNotFound         = errors.New("review item not found")
	ErrAlreadyPublished = errors.New("already published")
)

type state int

const (
	statePending state = iota
	statePublishing
	statePublished
)

// Item is one post waiting for operator approval.
type Item struct {
	Token      string
	Dest       string
	Post       content.Post
	CreatedAt  time.Time
	PreviewRef transport.MessageRef

	st state
}

// Service holds pending posts keyed by a random token until an operator
// approves them. Approve publishes at most once per item; concurrent or
// repeated approvals get ErrAlreadyPublished.
type Service struct {
	publisher publish.Publisher
	log       logx.Logger
	ttl       time.Duration

	mu    sync.Mutex
	items map[string]*Item
}

func New(publisher publish.Publisher, log logx.Logger) *Service {
	return &Service{
		publisher: publisher,
		log:       log,
		ttl:       24 * time.Hour,
		items:     map[string]*Item{},
	}
}

// Add registers a post for review and returns its item with a fresh token.
func (s *Service) Add(dest string, post content.Post) (*Item, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	item := &Item{Token: token, Dest: dest, Post: post, CreatedAt: time.Now()}

	s.mu.Lock()
	s.pruneLocked()
	s.items[token] = item
	s.mu.Unlock()

	s.log.Debug("review item added", logx.String("token", token), logx.String("dest", dest))
	return item, nil
}

// SetPreviewRef records where the preview message landed so the caption can
// be edited after approval.
func (s *Service) SetPreviewRef(token string, ref transport.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[token]; ok {
		item.PreviewRef = ref
	}
}

func (s *Service) Get(token string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.st == statePending {
			n++
		}
	}
	return n
}

// Approve publishes the item. Exactly one caller wins; the rest see
// ErrAlreadyPublished. A failed publish returns the item to pending so the
// operator can retry.
func (s *Service) Approve(ctx context.Context, token string) (transport.MessageRef, error) {
	s.mu.Lock()
	item, ok := s.items[token]
	if !ok {
		s.mu.Unlock()
		return transport.MessageRef{}, ErrNotFound
	}
	if item.st != statePending {
		s.mu.Unlock()
		return transport.MessageRef{}, ErrAlreadyPublished
	}
	item.st = statePublishing
	dest, post := item.Dest, item.Post
	s.mu.Unlock()

	// Publish outside the lock; it talks to the network.
	ref, err := s.publisher.Publish(ctx, dest, post)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		item.st = statePending
		return transport.MessageRef{}, fmt.Errorf("approve %s: %w", token, err)
	}
	item.st = statePublished
	s.log.Info("review item approved", logx.String("token", token), logx.String("dest", dest))
	return ref, nil
}

func (s *Service) pruneLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for tok, it := range s.items {
		if it.CreatedAt.Before(cutoff) && it.st != statePublishing {
			delete(s.items, tok)
		}
	}
}

func newToken() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
