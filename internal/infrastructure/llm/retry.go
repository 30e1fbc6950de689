// Package llm assembles the configured model backends behind the provider
// factory and wraps each with the retry policy.
package llm

import (
	"context"
	"errors"
	"math"
	"time"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

// RetryConfig bounds the two retry classes: exponential backoff for
// transient transport failures, and immediate corrective retries for
// malformed model output.
type RetryConfig struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	MalformedRetries int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		InitialDelay:     time.Second,
		MaxDelay:         30 * time.Second,
		BackoffFactor:    2.0,
		MalformedRetries: 2,
	}
}

// RetryingProvider wraps a backend with the retry policy. Unsupported
// action errors pass through untouched; the loop owns that feedback cycle.
type RetryingProvider struct {
	inner  output.ProviderPort
	cfg    RetryConfig
	logger output.LoggerPort
}

var _ output.ProviderPort = (*RetryingProvider)(nil)

func NewRetryingProvider(inner output.ProviderPort, cfg RetryConfig, logger output.LoggerPort) *RetryingProvider {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &RetryingProvider{inner: inner, cfg: cfg, logger: logger}
}

func (p *RetryingProvider) Name() string { return p.inner.Name() }

func (p *RetryingProvider) NextAction(ctx context.Context, req output.NextActionRequest) (*entity.Action, error) {
	attempt := req
	var lastErr error
	malformed := 0

	for transport := 0; transport < p.cfg.MaxAttempts; {
		action, err := p.inner.NextAction(ctx, attempt)
		if err == nil {
			return action, nil
		}
		lastErr = err

		var provErr *entity.ProviderError
		if !errors.As(err, &provErr) {
			return nil, err
		}

		if provErr.Kind == entity.ProviderMalformed {
			if malformed >= p.cfg.MalformedRetries {
				return nil, err
			}
			malformed++
			attempt.CorrectiveNote = "Your previous reply was not a valid action call. Respond with exactly one tool call using the declared action schema."
			p.logger.Warn("Malformed model output, retrying with corrective note",
				"provider", p.Name(), "attempt", malformed, "error", err)
			continue
		}

		if !provErr.Retryable() {
			return nil, err
		}
		transport++
		if transport >= p.cfg.MaxAttempts {
			break
		}
		delay := p.delay(transport)
		p.logger.Warn("Provider call failed, backing off",
			"provider", p.Name(), "attempt", transport, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, &entity.ProviderError{Provider: p.Name(), Kind: entity.ProviderTimeout, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (p *RetryingProvider) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.cfg.InitialDelay) * math.Pow(p.cfg.BackoffFactor, float64(attempt-1)))
	if d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}
