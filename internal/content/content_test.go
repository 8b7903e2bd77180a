package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestBuildImageURL(t *testing.T) {
	t.Parallel()

	u := BuildImageURL("Stay hungry, stay foolish and keep going")
	if !strings.HasPrefix(u, "https://image.pollinations.ai/prompt/") {
		t.Fatalf("unexpected base: %q", u)
	}
	if !strings.HasSuffix(u, "?nologo=true") {
		t.Fatalf("missing nologo flag: %q", u)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("not a valid URL: %v", err)
	}
	prompt := strings.TrimPrefix(parsed.Path, "/prompt/")
	// Only the first 20 runes of the quote reach the prompt.
	if !strings.HasSuffix(prompt, "Stay hungry, stay fo") {
		t.Fatalf("prompt fragment wrong: %q", prompt)
	}
	if strings.Contains(prompt, "foolish") {
		t.Fatalf("quote not truncated: %q", prompt)
	}
}

func TestBuildImageURLShortQuote(t *testing.T) {
	t.Parallel()

	u := BuildImageURL("Go")
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(parsed.Path, "8k, Go") {
		t.Fatalf("short quote mangled: %q", parsed.Path)
	}
}

func TestBuildCaption(t *testing.T) {
	t.Parallel()

	got := BuildCaption("Be yourself", "Oscar Wilde", "Join", "https://example.com")
	want := "❝ Be yourself ❞\n\n~ *Oscar Wilde*\n\n👇 **Start Your Journey:**\n[Join](https://example.com)"
	if got != want {
		t.Fatalf("caption = %q, want %q", got, want)
	}
}

func TestBuildCaptionWithoutAd(t *testing.T) {
	t.Parallel()

	got := BuildCaption("Be yourself", "Oscar Wilde", "", "")
	if strings.Contains(got, "Start Your Journey") {
		t.Fatalf("ad block present without ad config: %q", got)
	}
	if !strings.HasPrefix(got, "❝ Be yourself ❞") {
		t.Fatalf("caption = %q", got)
	}
}

func TestQuoteSourceNext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"q": "Less is more.", "a": "Rob Pike"}]`))
	}))
	defer srv.Close()

	src := NewQuoteSource(WithQuoteURL(srv.URL), WithAd("Join", "https://example.com"))
	post, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if post.Quote != "Less is more." || post.Author != "Rob Pike" {
		t.Fatalf("post = %+v", post)
	}
	if !strings.Contains(post.Caption, "*Rob Pike*") {
		t.Fatalf("caption = %q", post.Caption)
	}
	if post.ImageURL == "" {
		t.Fatal("empty image URL")
	}
}

func TestQuoteSourceEmptyAuthor(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"q": "Anonymous wisdom.", "a": ""}]`))
	}))
	defer srv.Close()

	post, err := NewQuoteSource(WithQuoteURL(srv.URL)).Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if post.Author != "Unknown" {
		t.Fatalf("author = %q", post.Author)
	}
}

func TestQuoteSourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"server error", "oops", http.StatusInternalServerError},
		{"empty array", "[]", http.StatusOK},
		{"empty quote", `[{"q": "", "a": "x"}]`, http.StatusOK},
		{"bad json", "{", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			if _, err := NewQuoteSource(WithQuoteURL(srv.URL)).Next(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
