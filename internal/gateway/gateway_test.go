package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio_pilot/internal/telemetry"
)

// fakeClock advances only when the gateway sleeps, making throttle and
// backoff timing fully deterministic.
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

func newTestGateway(c *fakeClock, maxAttempts int) *Gateway {
	return New(Options{
		MinInterval: 100 * time.Millisecond,
		MaxAttempts: maxAttempts,
		BackoffBase: 500 * time.Millisecond,
		Now:         c.now,
		Sleep:       c.sleep,
	}, telemetry.New(), zerolog.Nop())
}

func TestCall_SpacesConsecutiveCalls(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(clock, 4)

	require.NoError(t, g.Call("first", func() error { return nil }))
	require.NoError(t, g.Call("second", func() error { return nil }))

	// First call never waits; second is spaced by the full interval since
	// the fake clock does not move between calls.
	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 100*time.Millisecond, clock.sleeps[0])
}

func TestCall_RetriesTransientWithBackoff(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(clock, 4)

	calls := 0
	err := g.Call("flaky", func() error {
		calls++
		if calls < 3 {
			return &alpaca.APIError{StatusCode: 429, Message: "too many requests"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Backoff doubles: 500ms then 1s (throttle waits interleave).
	assert.Contains(t, clock.sleeps, 500*time.Millisecond)
	assert.Contains(t, clock.sleeps, 1*time.Second)
}

func TestCall_ValidationFailsFast(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(clock, 4)

	calls := 0
	apiErr := &alpaca.APIError{StatusCode: 422, Message: "insufficient qty available"}
	err := g.Call("bad-sell", func() error {
		calls++
		return apiErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, apiErr) || err == apiErr)
}

func TestCall_ExhaustsRetryBudget(t *testing.T) {
	clock := newFakeClock()
	g := newTestGateway(clock, 3)

	calls := 0
	err := g.Call("down", func() error {
		calls++
		return &alpaca.APIError{StatusCode: 503, Message: "service unavailable"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOK},
		{"rate limit", &alpaca.APIError{StatusCode: 429}, KindTransient},
		{"server error", &alpaca.APIError{StatusCode: 502}, KindTransient},
		{"validation", &alpaca.APIError{StatusCode: 422, Message: "invalid qty"}, KindValidation},
		{"forbidden", &alpaca.APIError{StatusCode: 403, Message: "insufficient buying power"}, KindValidation},
		{"wash trade", &alpaca.APIError{StatusCode: 403, Message: "potential wash trade detected"}, KindConflict},
		{"unknown", errors.New("boom"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
