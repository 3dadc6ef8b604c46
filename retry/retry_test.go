package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	}, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, time.Millisecond, time.Millisecond, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expected := errors.New("persistent error")
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return expected
	}, time.Millisecond, 2*time.Millisecond, 3*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, expected)
	assert.Contains(t, err.Error(), "4 attempts")
	assert.Equal(t, 4, attempts, "one attempt plus one per delay")
}

func TestDo_NoDelays(t *testing.T) {
	attempts := 0
	expected := errors.New("boom")
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return expected
	})

	assert.Equal(t, expected, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_Permanent(t *testing.T) {
	attempts := 0
	expected := errors.New("invalid record")
	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return Permanent(expected)
	}, time.Millisecond, time.Millisecond)

	assert.Equal(t, expected, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("error")
	}, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_DefaultDelays(t *testing.T) {
	assert.Equal(t, []time.Duration{5 * time.Second, 20 * time.Second, 60 * time.Second}, DefaultDelays)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestWithBackoff_EventualSuccess(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, 5, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoff_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expected := errors.New("persistent error")
	err := WithBackoff(context.Background(), func() error {
		attempts++
		return expected
	}, 3, time.Millisecond)

	assert.Equal(t, expected, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoff_InvalidMaxAttempts(t *testing.T) {
	err := WithBackoff(context.Background(), func() error { return nil }, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestWithBackoff_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WithBackoff(ctx, func() error {
		return errors.New("error")
	}, 10, 50*time.Millisecond)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
