package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSupervisor(maxRetries int) *Supervisor {
	return NewSupervisor(&SupervisorOptions{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func TestSupervisorRetriesTransient(t *testing.T) {
	s := newTestSupervisor(5)

	attempts := 0
	err := s.Execute(context.Background(), "connect", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("not primary yet"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestSupervisorExhaustsRetries(t *testing.T) {
	s := newTestSupervisor(2)

	cause := errors.New("connection refused for real")
	attempts := 0
	err := s.Execute(context.Background(), "connect", func(ctx context.Context) error {
		attempts++
		return Transient(cause)
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)

	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, cause)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, "connect", exhausted.OpName)
	require.Equal(t, 3, exhausted.Attempts)
}

func TestSupervisorPermanentAbortsImmediately(t *testing.T) {
	s := newTestSupervisor(5)

	cause := errors.New("authentication failed")
	attempts := 0
	err := s.Execute(context.Background(), "connect", func(ctx context.Context) error {
		attempts++
		return Permanent(cause)
	})
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, 1, attempts)
}

func TestSupervisorUnknownErrorIsFatal(t *testing.T) {
	s := newTestSupervisor(5)

	attempts := 0
	err := s.Execute(context.Background(), "initiate", func(ctx context.Context) error {
		attempts++
		return errors.New("malformed request")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestSupervisorNetworkErrorsRetryable(t *testing.T) {
	require.True(t, DefaultClassify(syscall.ECONNREFUSED))
	require.True(t, DefaultClassify(context.DeadlineExceeded))
	require.False(t, DefaultClassify(errors.New("no such collection")))
	require.False(t, DefaultClassify(nil))
	require.False(t, DefaultClassify(Permanent(syscall.ECONNREFUSED)))
}

func TestSupervisorCancelDuringBackoff(t *testing.T) {
	s := NewSupervisor(&SupervisorOptions{
		MaxRetries: 5,
		BaseDelay:  10 * time.Second,
		MaxDelay:   10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := s.Execute(ctx, "connect", func(ctx context.Context) error {
		return Transient(errors.New("unreachable"))
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteValue(t *testing.T) {
	s := newTestSupervisor(5)

	attempts := 0
	val, err := ExecuteValue(context.Background(), s, "fetch", func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 2 {
			return 0, Transient(errors.New("timeout"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, val)
}
