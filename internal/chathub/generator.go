package chathub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"shopchat/backend/internal/models"
)

// ErrEmptyCompletion is returned when a generator produced no text.
var ErrEmptyCompletion = errors.New("generator returned an empty completion")

// Generator produces an assistant reply for a prompt. Implementations may be
// remote calls without their own timeout; callers bound ctx.
type Generator interface {
	GenerateText(ctx context.Context, messages []models.PromptMessage, maxTokens int) (string, error)
}

// StreamGenerator is a Generator whose backend streams natively. onDelta is
// called with each fragment in order; returning an error from it aborts the stream.
type StreamGenerator interface {
	Generator
	StreamText(ctx context.Context, messages []models.PromptMessage, maxTokens int, onDelta func(string) error) (string, error)
}

// ChunkText splits text into pieces of at most size runes without breaking
// UTF-8 sequences. Concatenating the result yields text.
func ChunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}

// CannedGenerator answers without a model backend. It is used when no
// completion API is configured so the streaming path stays exercisable.
type CannedGenerator struct{}

// GenerateText returns a templated reply to the latest user turn.
func (CannedGenerator) GenerateText(ctx context.Context, messages []models.PromptMessage, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			last = strings.TrimSpace(messages[i].Content)
			break
		}
	}
	if last == "" {
		return "Hi! I'm the store assistant. Ask me about products, delivery or your cart.", nil
	}
	reply := fmt.Sprintf("Thanks for asking about %q. Our team picked a few catalog items that match; "+
		"open the product pages for specs and prices, or ask me to compare two of them.", last)
	if maxTokens > 0 {
		// Rough budget of four characters per token.
		if limit := maxTokens * 4; utf8.RuneCountInString(reply) > limit {
			reply = string([]rune(reply)[:limit])
		}
	}
	return reply, nil
}
