package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"folio_pilot/internal/telemetry"
)

// Gateway wraps every brokerage call: consecutive calls are spaced by a
// minimum inter-call delay and transient failures are retried with
// exponential backoff up to a bounded number of attempts. Validation and
// conflict failures propagate immediately.
//
// The last-call timestamp is instance-owned, and the clock and sleep
// functions are injectable so tests can control timing deterministically.
type Gateway struct {
	minInterval time.Duration
	maxAttempts int
	backoffBase time.Duration

	mu       sync.Mutex
	lastCall time.Time

	now   func() time.Time
	sleep func(time.Duration)

	log   zerolog.Logger
	stats *telemetry.Metrics
}

// Options configures a Gateway. Zero-valued fields get production defaults.
type Options struct {
	MinInterval time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	Now         func() time.Time
	Sleep       func(time.Duration)
}

// New builds a Gateway.
func New(opts Options, stats *telemetry.Metrics, log zerolog.Logger) *Gateway {
	g := &Gateway{
		minInterval: opts.MinInterval,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		now:         opts.Now,
		sleep:       opts.Sleep,
		log:         log.With().Str("component", "gateway").Logger(),
		stats:       stats,
	}
	if g.minInterval <= 0 {
		g.minInterval = 100 * time.Millisecond
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = 4
	}
	if g.backoffBase <= 0 {
		g.backoffBase = 500 * time.Millisecond
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.sleep == nil {
		g.sleep = time.Sleep
	}
	return g
}

// Call executes fn under the rate limit, retrying transient failures.
// Every call through the gateway is a suspension point: the caller must
// expect intentional latency here.
func (g *Gateway) Call(label string, fn func() error) error {
	var err error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		g.throttle()

		err = fn()
		kind := Classify(err)
		g.stats.APICalls.WithLabelValues(kind.String()).Inc()

		if kind == KindOK {
			return nil
		}
		if kind != KindTransient {
			// Local/broker precondition or wash conflict: fail fast.
			return err
		}

		if attempt == g.maxAttempts-1 {
			break
		}
		wait := g.backoffBase << uint(attempt)
		g.stats.APIRetries.Inc()
		g.log.Warn().
			Str("call", label).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Err(err).
			Msg("transient failure, retrying")
		g.sleep(wait)
	}

	g.log.Error().Str("call", label).Err(err).Msg("retry budget exhausted")
	return err
}

// throttle blocks until the minimum inter-call spacing has elapsed. The
// mutex is held across the wait so concurrent callers are serialized in
// arrival order rather than stampeding when the window opens.
func (g *Gateway) throttle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastCall.IsZero() {
		if elapsed := g.now().Sub(g.lastCall); elapsed < g.minInterval {
			g.sleep(g.minInterval - elapsed)
		}
	}
	g.lastCall = g.now()
}
