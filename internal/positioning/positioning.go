// Package positioning abstracts the device positioning API consumed by
// the position reporter.
package positioning

import (
	"context"
	"time"
)

// Sample is one raw positioning reading. Transient: it is transformed
// into a location report and discarded.
type Sample struct {
	Latitude  float64
	Longitude float64
	AccuracyM float64
	SpeedMS   float64
	Heading   *float64
	At        time.Time
}

// WatchOptions carries the subscription lower bounds. Both are floors,
// not a fixed cadence: a stationary device may emit far less often.
type WatchOptions struct {
	MinInterval  time.Duration
	MinDistanceM float64
}

// Watch is a live positioning subscription. Stop must be idempotent
// and side-effect-free beyond releasing the subscription.
type Watch interface {
	Stop()
}

type Provider interface {
	// RequestAuthorization reports whether the device grants location
	// access. A denial is an answer, not an error.
	RequestAuthorization(ctx context.Context) (bool, error)

	// Watch starts a continuous positioning subscription delivering
	// samples to onSample until the returned watch is stopped.
	Watch(ctx context.Context, opts WatchOptions, onSample func(Sample)) (Watch, error)
}
