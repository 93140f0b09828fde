package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultBackoffConfig()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateBackoff(tt.retry, cfg), "retry %d", tt.retry)
	}
}

func TestRetry(t *testing.T) {
	cfg := BackoffConfig{MaxRetries: 3, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}

	t.Run("first attempt succeeds", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), func(context.Context) error {
			calls++
			return nil
		}, cfg)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted keeps last error", func(t *testing.T) {
		last := errors.New("broker down")
		calls := 0
		err := Retry(context.Background(), func(context.Context) error {
			calls++
			return last
		}, cfg)
		require.ErrorIs(t, err, last)
		assert.Equal(t, 4, calls)
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := BackoffConfig{MaxRetries: 3, RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
		err := Retry(ctx, func(context.Context) error {
			cancel()
			return errors.New("refused")
		}, slow)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestMarshaler(t *testing.T) {
	payload := struct {
		Count int `json:"count" msgpack:"count"`
	}{Count: 3}

	m, err := Marshaler("")
	require.NoError(t, err)
	b, err := m(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":3}`, string(b))

	m, err = Marshaler(EncodingMsgpack)
	require.NoError(t, err)
	b, err = m(payload)
	require.NoError(t, err)
	var decoded struct {
		Count int `msgpack:"count"`
	}
	require.NoError(t, msgpack.Unmarshal(b, &decoded))
	assert.Equal(t, 3, decoded.Count)
	assert.NotEqual(t, byte('{'), b[0], "msgpack payload must not be JSON")

	_, err = Marshaler("xml")
	require.Error(t, err)
}
