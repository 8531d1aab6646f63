package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/leapstack-labs/statlake/internal/catalog"
	"github.com/leapstack-labs/statlake/internal/table"
)

// Environment variables consulted when a dataset's options carry no retry settings.
const (
	RetryAttemptsEnvVar    = "IMPORTER_RETRY_ATTEMPTS"
	RetryBaseSecondsEnvVar = "IMPORTER_RETRY_BASE_SECONDS"
)

// Retry configures fetch retries.
type Retry struct {
	// Attempts is the total number of tries, at least 1.
	Attempts int
	// Base is the first backoff delay; each later delay doubles it.
	Base time.Duration
}

// DefaultRetry is used when neither options, environment nor caller say otherwise.
var DefaultRetry = Retry{Attempts: 3, Base: 5 * time.Second}

type retryOptions struct {
	Attempts    *int `mapstructure:"retry_attempts"`
	BaseSeconds *int `mapstructure:"retry_base_seconds"`
}

// ResolveRetry picks the retry settings for a dataset. Options win over the
// environment, which wins over fallback.
func ResolveRetry(opts map[string]any, fallback Retry) Retry {
	r := fallback
	if v, ok := envInt(RetryAttemptsEnvVar); ok {
		r.Attempts = v
	}
	if v, ok := envInt(RetryBaseSecondsEnvVar); ok {
		r.Base = time.Duration(v) * time.Second
	}

	var o retryOptions
	if err := decodeOptions(opts, &o); err == nil {
		if o.Attempts != nil {
			r.Attempts = *o.Attempts
		}
		if o.BaseSeconds != nil {
			r.Base = time.Duration(*o.BaseSeconds) * time.Second
		}
	}
	if r.Attempts < 1 {
		r.Attempts = 1
	}
	if r.Base <= 0 {
		r.Base = time.Millisecond
	}
	return r
}

func envInt(name string) (int, bool) {
	s, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FetchError is returned when a fetch still fails after every attempt.
type FetchError struct {
	Dataset  string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Dataset, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// WithRetry wraps f so that failed fetches are retried with exponential
// backoff. Permanent errors and context cancellation stop immediately.
func WithRetry(f Fetcher, r Retry, logger *slog.Logger) Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if r.Attempts < 1 {
		r.Attempts = 1
	}
	return FetcherFunc(func(ctx context.Context, spec catalog.DatasetSpec, req Request) (*table.Table, error) {
		backoff := retry.WithMaxRetries(uint64(r.Attempts-1), retry.NewExponential(r.Base))

		var out *table.Table
		attempts := 0
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attempts++
			t, err := f.Fetch(ctx, spec, req)
			if err == nil {
				out = t
				return nil
			}
			var perm *permanentError
			if errors.As(err, &perm) || ctx.Err() != nil {
				return err
			}
			logger.Warn("fetch attempt failed", "dataset", spec.Name, "attempt", attempts, "of", r.Attempts, "error", err)
			return retry.RetryableError(err)
		})
		if err != nil {
			return nil, &FetchError{Dataset: spec.Name, Attempts: attempts, Err: err}
		}
		return out, nil
	})
}
