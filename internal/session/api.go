package session

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

// DefaultAPIModel is the model used for one-shot API completions when
// the caller does not pick one.
const DefaultAPIModel = "claude-3-5-haiku-latest"

const apiMaxTokens = 4096

// APIClient is the non-streaming provider: one-shot completions over
// the Anthropic API, used by stewards and other background callers that
// need a single answer rather than a full session.
type APIClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAPIClient builds an API client. ANTHROPIC_API_KEY takes precedence
// over the explicit key. An empty model falls back to DefaultAPIModel.
func NewAPIClient(apiKey, model string) (*APIClient, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, types.NewError(types.KindIdentity, types.CodeInvalidInput,
			"API key required: set ANTHROPIC_API_KEY or configure one")
	}
	if model == "" {
		model = DefaultAPIModel
	}
	return &APIClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}, nil
}

// Complete sends one prompt and returns the concatenated text blocks of
// the response. Transient failures retry with exponential backoff.
func (c *APIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: apiMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var resp *anthropic.Message
	op := func() error {
		var err error
		resp, err = c.client.Messages.New(ctx, params)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
	), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", types.WrapError(types.KindStorage, types.CodeDatabaseError, "anthropic API call", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
