package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"codelens-go/pkg/apperr"
	"codelens-go/pkg/log"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v57/github"
)

// RetryConfig configures retry behavior for host API calls.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns 3 attempts with 500ms..8s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// newBackOff builds the exponential schedule for one call: MaxAttempts tries in total, bounded by ctx.
func (c *githubClient) newBackOff(ctx context.Context) backoff.BackOff {
	retries := c.retry.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retry.InitialBackoff
	eb.MaxInterval = c.retry.MaxBackoff
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// do runs operation, retrying transient failures, and maps the final error into the apperr taxonomy.
func (c *githubClient) do(ctx context.Context, repo Repository, op string, operation func() (*github.Response, error)) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		resp, err := operation()
		if err != nil && !isRetryable(resp, err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.newBackOff(ctx), func(err error, wait time.Duration) {
		log.Warnf("[GitHost] %s %s 失败（第 %d 次），%s 后重试: %v", op, repo, attempt, wait, err)
	})
	if err != nil {
		return mapError(repo, op, err)
	}
	return nil
}

func isRetryable(resp *github.Response, err error) bool {
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return true
	}
	var rate *github.RateLimitError
	if errors.As(err, &rate) {
		// the primary limit resets on the hour, not worth waiting for
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if resp == nil || resp.Response == nil {
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

func mapError(repo Repository, op string, err error) error {
	var rate *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rate) || errors.As(err, &abuse) {
		return fmt.Errorf("%w: github rate limit hit during %s on %s: %v", apperr.ErrUpstreamUnavailable, op, repo, err)
	}

	var resp *github.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil {
		switch resp.Response.StatusCode {
		case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s is missing or not readable; private repositories need a token with read access to contents",
				apperr.ErrRepositoryNotFound, repo)
		}
	}
	return fmt.Errorf("%w: %s on %s: %v", apperr.ErrUpstreamUnavailable, op, repo, err)
}
