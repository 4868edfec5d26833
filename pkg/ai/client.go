// Package ai is a request/response facade over an external chat model.
//
// Four tasks, each with a strict JSON output contract: intent
// classification, header mapping, sheet detection, and error summarizing.
// Responses that do not match the contract are rejected; callers apply their
// deterministic fallbacks.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// Client is the minimal chat-completion surface the adapter needs. Provider
// implementations and the test stub satisfy it.
type Client interface {
	// Complete sends one system + user prompt pair and returns the raw
	// response text.
	Complete(ctx context.Context, system, user string) (string, error)

	// ModelName returns the model identifier for logging.
	ModelName() string
}

// NewClient selects a provider by model name: models prefixed "claude" go to
// Anthropic, everything else to OpenAI.
func NewClient(apiKey, model string) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ai: api key is required")
	}
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return newAnthropicClient(apiKey, model), nil
	}
	return newOpenAIClient(apiKey, model), nil
}
