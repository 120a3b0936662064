// Package naming generates short session titles from the first user message
// via the Anthropic Messages API.
package naming

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

const namingSystemPrompt = "You name coding sessions. Given the first user message of a session, reply with a short title (3-7 words, no quotes, no trailing punctuation) describing what the session is about."

// maxPromptChars caps how much of the first message is sent; a title never
// needs more context than this.
const maxPromptChars = 2000

// Namer generates session names with a configurable model.
type Namer struct {
	client anthropic.Client
	model  string
}

// New creates a Namer using ambient Anthropic credentials.
func New(model string) *Namer {
	return &Namer{client: anthropic.NewClient(), model: model}
}

// Name produces a display name for a session from its first user message.
func (n *Namer) Name(ctx context.Context, firstUserText string) (string, error) {
	prompt := TruncatePrompt(firstUserText)
	if prompt == "" {
		return "", fmt.Errorf("empty first message")
	}

	msg, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(n.model),
		MaxTokens: 30,
		System: []anthropic.TextBlockParam{
			{Text: namingSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return CleanTitle(block.Text), nil
		}
	}
	return "", fmt.Errorf("no text block in response")
}

// TruncatePrompt trims and bounds the first-message text sent to the model.
func TruncatePrompt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	return text
}

// CleanTitle normalizes a model-produced title to a single trimmed line.
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	return strings.Trim(title, `"'`)
}
