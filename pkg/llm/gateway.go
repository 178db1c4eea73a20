// Package llm wraps the Anthropic API behind a bounded-concurrency,
// retrying, schema-validating gateway shared by the Strategy, Analysis, and
// Decision pipeline stages (spec.md §4.2, §4.4, §4.5).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/scholaragent/core/pkg/config"
)

// completer is the minimal surface the gateway needs from a model provider.
// Abstracting it behind an interface keeps the retry/validation/concurrency
// logic testable without a live Anthropic API key.
type completer interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Gateway is the single entry point every pipeline stage uses to call the
// LLM. It never returns a malformed response to a caller: every call is
// validated against the target schema, and any unrecoverable failure comes
// back as an error so the stage can fall back to its heuristic path
// (spec.md §7 "LLM unavailable").
type Gateway struct {
	provider  completer
	cfg       config.LLMConfig
	sem       *semaphore.Weighted
	validator *validator.Validate
	logger    *slog.Logger
}

// New builds a Gateway from LLM configuration. Panics are never raised here
// even with an empty API key; calls will simply fail fast with an
// authentication error, which callers classify as non-retryable.
func New(cfg config.LLMConfig) *Gateway {
	return newGateway(cfg, &anthropicProvider{client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey))})
}

func newGateway(cfg config.LLMConfig, provider completer) *Gateway {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Gateway{
		provider:  provider,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		validator: validator.New(),
		logger:    slog.Default().With("component", "llm-gateway"),
	}
}

// Run sends a single prompt to the model and unmarshals+validates the
// response into out, which must be a pointer to one of this package's
// schema structs. It retries transient failures with exponential backoff
// and falls back to cfg.FallbackModel after exhausting retries against the
// primary model once.
func (g *Gateway) Run(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire llm concurrency slot: %w", err)
	}
	defer g.sem.Release(1)

	model := g.cfg.Model
	err := g.callAndDecode(ctx, model, systemPrompt, userPrompt, out)
	if err != nil && g.cfg.FallbackModel != "" && g.cfg.FallbackModel != model {
		g.logger.Warn("primary model failed, falling back", "model", model, "fallback", g.cfg.FallbackModel, "error", err)
		err = g.callAndDecode(ctx, g.cfg.FallbackModel, systemPrompt, userPrompt, out)
	}
	if err != nil {
		return fmt.Errorf("llm call failed: %w", err)
	}
	return nil
}

// callAndDecode retries the full call+unmarshal+validate cycle, since a
// JSON-parse failure of the response is itself retryable (spec.md §4.4).
func (g *Gateway) callAndDecode(ctx context.Context, model, systemPrompt, userPrompt string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		raw, err := g.callWithRetry(ctx, model, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			lastErr = fmt.Errorf("unmarshal llm response: %w", err)
			continue
		}
		if err := g.validator.Struct(out); err != nil {
			lastErr = fmt.Errorf("llm response failed schema validation: %w", err)
			continue
		}
		return nil
	}
	return lastErr
}

// callWithRetry performs the actual Messages.New call, retrying transient
// failures (rate limits, 5xx, transport resets) with exponential backoff,
// classified by ClassifyError.
func (g *Gateway) callWithRetry(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	var result string

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialBackoff
	bo.Multiplier = g.cfg.BackoffFactor
	bo.MaxElapsedTime = time.Duration(g.cfg.MaxRetries+1) * g.cfg.RequestTimeout

	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()

		text, err := g.provider.Complete(callCtx, model, systemPrompt, userPrompt)
		if err != nil {
			if attempt > g.cfg.MaxRetries || ClassifyError(err) == NoRetry {
				return backoff.Permanent(err)
			}
			g.logger.Warn("llm call failed, retrying", "model", model, "attempt", attempt, "error", err)
			return err
		}
		result = text
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return result, nil
}

// anthropicProvider is the default completer, backed by the real Anthropic
// Messages API.
type anthropicProvider struct {
	client anthropic.Client
}

func (p *anthropicProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", err
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("llm response contained no text block")
}
