// Package sim is a simulated positioning device for local runs and
// demos, standing in for a real GNSS receiver.
package sim

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/CityHopper/fleetsync/internal/positioning"
)

// Provider drives a deterministic circular route seeded from the
// device name, so the same device always replays the same track.
type Provider struct {
	DeviceName string

	// CenterLat/CenterLng anchor the simulated route.
	CenterLat float64
	CenterLng float64

	// SpeedKmh is the simulated cruising speed.
	SpeedKmh float64
}

func New(deviceName string) *Provider {
	return &Provider{
		DeviceName: deviceName,
		CenterLat:  59.437,
		CenterLng:  24.7536,
		SpeedKmh:   30,
	}
}

func (p *Provider) RequestAuthorization(ctx context.Context) (bool, error) {
	return true, nil
}

func (p *Provider) Watch(ctx context.Context, opts positioning.WatchOptions, onSample func(positioning.Sample)) (positioning.Watch, error) {
	interval := opts.MinInterval
	if interval <= 0 {
		interval = time.Second
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(p.DeviceName))
	phase := float64(h.Sum32()%360) * math.Pi / 180

	w := &watch{done: make(chan struct{})}
	go p.run(ctx, w, interval, phase, onSample)
	return w, nil
}

func (p *Provider) run(ctx context.Context, w *watch, interval time.Duration, phase float64, onSample func(positioning.Sample)) {
	// Roughly a 500 m radius loop around the anchor.
	const radiusDeg = 0.0045
	speedMS := p.SpeedKmh / 3.6

	t := time.NewTicker(interval)
	defer t.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case now := <-t.C:
			elapsed := now.Sub(start).Seconds()
			angle := phase + elapsed*speedMS/500 // circumference progress
			heading := math.Mod(angle*180/math.Pi+90, 360)
			onSample(positioning.Sample{
				Latitude:  p.CenterLat + radiusDeg*math.Sin(angle),
				Longitude: p.CenterLng + radiusDeg*math.Cos(angle),
				AccuracyM: 5,
				SpeedMS:   speedMS,
				Heading:   &heading,
				At:        now.UTC(),
			})
		}
	}
}

type watch struct {
	once sync.Once
	done chan struct{}
}

func (w *watch) Stop() {
	w.once.Do(func() { close(w.done) })
}
