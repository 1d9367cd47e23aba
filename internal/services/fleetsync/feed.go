package fleetsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/CityHopper/fleetsync/internal/broker/messages"
)

// A subscription generation that survived this long resets the
// reconnect backoff.
const feedStableAfter = time.Minute

// runFeed owns the change-feed lifecycle: it opens one consumer per
// watched table as a single subscription generation, bumps the epoch
// for the generation, and tears the whole generation down when any
// consumer fails. Effects of a superseded generation are discarded by
// the epoch check in applyEvent, so a late callback can never corrupt
// current state.
func (s *Synchronizer) runFeed(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		epoch := s.bumpEpoch()
		startedAt := time.Now()
		err := s.runFeedGeneration(ctx, epoch)
		if ctx.Err() != nil {
			return
		}

		s.setHealth(HealthDegraded)
		if err != nil {
			s.setLastError(err)
			slog.Warn("change feed degraded", "epoch", epoch, "error", err.Error())
		}

		if time.Since(startedAt) >= feedStableAfter {
			attempt = 0
		}
		delay := s.backoff.Delay(attempt)
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runFeedGeneration blocks until any table consumer fails or ctx ends.
func (s *Synchronizer) runFeedGeneration(ctx context.Context, epoch int64) error {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	consumers := make([]FeedConsumer, 0, len(s.tables))
	for _, table := range s.tables {
		consumers = append(consumers, s.newConsumer(table))
	}
	defer func() {
		for _, c := range consumers {
			_ = c.Close()
		}
	}()

	s.setHealth(HealthLive)
	slog.Info("change feed live", "epoch", epoch, "tables", len(s.tables))

	errCh := make(chan error, len(consumers))
	var wg sync.WaitGroup
	for i, c := range consumers {
		wg.Add(1)
		table := s.tables[i]
		consumer := c
		go func() {
			defer wg.Done()
			errCh <- consumer.Consume(genCtx, func(_key, value []byte) error {
				s.handleFeedMessage(table, value, epoch)
				return nil
			})
		}()
	}

	err := <-errCh
	cancel()
	wg.Wait()
	return err
}

// handleFeedMessage decodes and applies one feed message. It never
// returns an error to the consumer: a malformed payload is counted and
// dropped rather than wedging the feed on a poison message.
func (s *Synchronizer) handleFeedMessage(table string, value []byte, epoch int64) {
	var ev messages.ChangeEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		s.eventsInvalid.Add(1)
		slog.Warn("malformed change event", "table", table, "error", err.Error())
		return
	}
	if ev.Table == "" {
		ev.Table = table
	}
	s.applyEvent(ev, epoch)
}

func (s *Synchronizer) bumpEpoch() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.epoch
}

func (s *Synchronizer) setHealth(h Health) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Stop wins: never resurrect a disconnected synchronizer from a
	// straggling feed goroutine.
	if s.cancel == nil {
		return
	}
	s.health = h
}

// Epoch returns the current subscription generation (diagnostics).
func (s *Synchronizer) Epoch() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}
