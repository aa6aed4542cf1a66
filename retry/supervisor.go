// Package retry wraps fallible store operations in bounded exponential
// backoff, separating transient failures from fatal ones.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 2 * time.Second
	DefaultMaxDelay   = 60 * time.Second
)

// DefaultClassify reports whether err is worth retrying. Explicit markers
// win, then common network transients. Anything unrecognized is treated as
// fatal, store clients wrap their own error codes with Transient or
// Permanent before errors reach the supervisor.
func DefaultClassify(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if IsTransient(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

type SupervisorOptions struct {
	Logger *zap.Logger

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Classify overrides DefaultClassify when set.
	Classify func(err error) bool
}

// Supervisor executes operations with bounded exponential backoff between
// attempts. It is stateless across calls and safe for concurrent use.
type Supervisor struct {
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	classify   func(err error) bool
}

func NewSupervisor(opts *SupervisorOptions) *Supervisor {
	if opts == nil {
		opts = &SupervisorOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	baseDelay := opts.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}

	maxDelay := opts.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}

	classify := opts.Classify
	if classify == nil {
		classify = DefaultClassify
	}

	return &Supervisor{
		logger:     logger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		classify:   classify,
	}
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.baseDelay
	b.MaxInterval = s.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Execute runs fn, retrying transient failures until it succeeds, a fatal
// error occurs, the retry budget is spent or ctx is cancelled. Cancellation
// interrupts backoff sleeps immediately.
func (s *Supervisor) Execute(ctx context.Context, opName string, fn func(ctx context.Context) error) error {
	_, err := ExecuteValue(ctx, s, opName, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteValue is Execute for operations that produce a value.
func ExecuteValue[T any](ctx context.Context, s *Supervisor, opName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var emptyVal T

	b := s.newBackOff()
	attempts := 0

	for {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		attempts++

		if ctxErr := ctx.Err(); ctxErr != nil {
			return emptyVal, ctxErr
		}

		if !s.classify(err) {
			s.logger.Debug("operation failed fatally",
				zap.String("operation", opName),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return emptyVal, unwrapMarker(err)
		}

		if attempts > s.maxRetries {
			s.logger.Warn("operation retries exhausted",
				zap.String("operation", opName),
				zap.Int("attempts", attempts),
				zap.Error(err))
			return emptyVal, &RetriesExhaustedError{
				OpName:   opName,
				Attempts: attempts,
				Cause:    unwrapMarker(err),
			}
		}

		delay := b.NextBackOff()
		s.logger.Debug("operation failed, will retry",
			zap.String("operation", opName),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return emptyVal, ctx.Err()
		}
	}
}

// unwrapMarker strips an outermost Transient or Permanent wrapper so callers
// match on the underlying error. Markers deeper in a chain stay put, they
// unwrap transparently anyway.
func unwrapMarker(err error) error {
	switch e := err.(type) {
	case *permanentError:
		return e.err
	case *transientError:
		return e.err
	}
	return err
}
