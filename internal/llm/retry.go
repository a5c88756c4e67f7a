package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Retrying retries whole-batch failures of Next with exponential backoff.
// Per-item failures are returned as is and left for a later run.
type Retrying struct {
	Next       Annotator
	MaxElapsed time.Duration
	Log        zerolog.Logger

	// newBackOff is swapped in tests to avoid sleeping.
	newBackOff func() backoff.BackOff
}

func NewRetrying(next Annotator, maxElapsed time.Duration, log zerolog.Logger) *Retrying {
	return &Retrying{Next: next, MaxElapsed: maxElapsed, Log: log}
}

func (r *Retrying) Name() string { return r.Next.Name() }

func (r *Retrying) Annotate(ctx context.Context, batch []AnnotationRequest) ([]AnnotationResult, error) {
	var out []AnnotationResult
	op := func() error {
		res, err := r.Next.Annotate(ctx, batch)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrOpenAINoAPIKey) || errors.Is(err, ErrGeminiNoAPIKey) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.Log.Warn().Err(err).Str("provider", r.Next.Name()).Dur("wait", wait).Int("batch", len(batch)).
			Msg("annotation call failed, retrying")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(r.backOff(), ctx), notify); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Retrying) backOff() backoff.BackOff {
	if r.newBackOff != nil {
		return r.newBackOff()
	}
	if r.MaxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.MaxElapsed
	return b
}
