package fleetsync

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

// BackoffConfig parameterizes the single reconnect policy used for
// change-feed subscriptions, so retry behavior is uniform and testable
// independent of the transport.
type BackoffConfig struct {
	Base time.Duration // default: 500ms
	Max  time.Duration // default: 30s

	// JitterFraction spreads delays by up to this fraction of the
	// computed delay, so a fleet of clients does not reconnect in
	// lockstep. Default: 0.2.
	JitterFraction float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:           500 * time.Millisecond,
		Max:            30 * time.Second,
		JitterFraction: 0.2,
	}
}

type Backoff struct {
	cfg BackoffConfig
	r   Rand
}

func NewBackoff(cfg BackoffConfig, r Rand) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		cfg.JitterFraction = def.JitterFraction
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Backoff{cfg: cfg, r: r}
}

// Delay returns the wait before reconnect attempt n (0-based):
// exponential from Base, capped at Max, plus jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.cfg.Base
	for i := 0; i < attempt && d < b.cfg.Max; i++ {
		d *= 2
	}
	if d > b.cfg.Max {
		d = b.cfg.Max
	}
	if b.cfg.JitterFraction > 0 {
		spread := int(float64(d) * b.cfg.JitterFraction)
		if spread > 0 {
			d += time.Duration(b.r.Intn(spread))
		}
	}
	return d
}
