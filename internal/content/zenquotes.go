package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultQuoteURL = "https://zenquotes.io/api/random"

// QuoteSource fetches random quotes and assembles posts from them.
type QuoteSource struct {
	client   *http.Client
	quoteURL string
	adText   string
	adLink   string
}

type Option func(*QuoteSource)

// WithQuoteURL overrides the quote API endpoint.
func WithQuoteURL(u string) Option {
	return func(s *QuoteSource) {
		if strings.TrimSpace(u) != "" {
			s.quoteURL = u
		}
	}
}

func WithAd(text, link string) Option {
	return func(s *QuoteSource) {
		s.adText = text
		s.adLink = link
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *QuoteSource) {
		if c != nil {
			s.client = c
		}
	}
}

func NewQuoteSource(opts ...Option) *QuoteSource {
	s := &QuoteSource{
		client:   &http.Client{Timeout: 8 * time.Second},
		quoteURL: defaultQuoteURL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetAd updates the ad block after a config reload.
func (s *QuoteSource) SetAd(text, link string) {
	s.adText, s.adLink = text, link
}

func (s *QuoteSource) Next(ctx context.Context) (Post, error) {
	quote, author, err := s.fetchQuote(ctx)
	if err != nil {
		return Post{}, err
	}
	return Post{
		Quote:    quote,
		Author:   author,
		ImageURL: BuildImageURL(quote),
		Caption:  BuildCaption(quote, author, s.adText, s.adLink),
	}, nil
}

// fetchQuote calls the quote API. The response is a one-element array:
//
//	[{"q": "<quote>", "a": "<author>"}]
func (s *QuoteSource) fetchQuote(ctx context.Context) (quote, author string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.quoteURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("quote request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("quote fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("quote fetch: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("quote fetch: %w", err)
	}

	var payload []struct {
		Q string `json:"q"`
		A string `json:"a"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", fmt.Errorf("quote decode: %w", err)
	}
	if len(payload) == 0 || strings.TrimSpace(payload[0].Q) == "" {
		return "", "", fmt.Errorf("quote decode: empty response")
	}

	quote = strings.TrimSpace(payload[0].Q)
	author = strings.TrimSpace(payload[0].A)
	if author == "" {
		author = "Unknown"
	}
	return quote, author, nil
}
