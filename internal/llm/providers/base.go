// Package providers implements llm.Provider for the concrete backends
// wired into SPEC_FULL §4.5: Anthropic, OpenAI, and Amazon Bedrock.
// Grounded on the teacher's internal/agent/providers package.
package providers

import (
	"context"
	"time"
)

// Base holds shared retry configuration for LLM providers.
type Base struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBase creates a base provider with sane defaults.
func NewBase(name string, maxRetries int, retryDelay time.Duration) Base {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return Base{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Name returns the provider's registered name.
func (b *Base) Name() string { return b.name }

// Retry executes op with linear backoff while isRetryable(err) holds.
func (b *Base) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}
