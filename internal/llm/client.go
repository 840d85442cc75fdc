// Package llm wraps the text-generation collaborators behind a single
// Generate interface with a factory over the supported providers. The engine
// treats the generative service as optional: a Noop client stands in when no
// provider is configured.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable marks the capability-absent client. Callers treat it like
// any other upstream failure and move to the next fallback stage.
var ErrUnavailable = errors.New("llm: no provider configured")

// Client is a single-turn completion client.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Noop is the null implementation used when no generative provider is
// configured.
type Noop struct{}

// Generate always reports the capability as absent.
func (Noop) Generate(ctx context.Context, prompt string) (string, error) {
	return "", ErrUnavailable
}

// Available reports whether c is a real provider rather than the Noop stand-in.
func Available(c Client) bool {
	if c == nil {
		return false
	}
	_, noop := c.(Noop)
	return !noop
}
