package content

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Post is one fully assembled channel post: a quote, the generated image
// URL, and the rendered caption.
type Post struct {
	Quote    string
	Author   string
	ImageURL string
	Caption  string
}

// Provider assembles posts. The default implementation pulls a random quote
// from an external API and derives the image from it.
type Provider interface {
	Next(ctx context.Context) (Post, error)
}

const imageBase = "https://image.pollinations.ai/prompt/"

// imagePromptPrefix seeds the image model with a consistent visual style;
// the quote fragment keeps each image distinct.
const imagePromptPrefix = "epic cinematic scenery, motivational, hyperrealistic, 8k, "

// BuildImageURL derives the generated-image URL from a quote. Only the
// first 20 runes of the quote go into the prompt.
func BuildImageURL(quote string) string {
	fragment := quote
	if r := []rune(fragment); len(r) > 20 {
		fragment = string(r[:20])
	}
	prompt := imagePromptPrefix + fragment
	return imageBase + url.PathEscape(prompt) + "?nologo=true"
}

// BuildCaption renders the channel caption in Telegram Markdown. The ad
// block is appended only when both text and link are configured.
func BuildCaption(quote, author, adText, adLink string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❝ %s ❞\n\n~ *%s*", quote, author)
	if strings.TrimSpace(adText) != "" && strings.TrimSpace(adLink) != "" {
		fmt.Fprintf(&b, "\n\n👇 **Start Your Journey:**\n[%s](%s)", adText, adLink)
	}
	return b.String()
}
