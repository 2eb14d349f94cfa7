package services

import (
	"context"
	"errors"
	"sync"

	"drowsiness-monitor/backend/internal/models"
)

var ErrPublisherClosed = errors.New("publisher closed")

// Publisher exposes the latest result of a session to UI consumers.
//
// Semantics:
//   - Publish never blocks and overwrites the previous result (last value wins)
//   - readers see the newest result only, never a queue
//   - Next blocks until a result newer than a given version exists
//
// Safe for one publisher and any number of readers.
type Publisher struct {
	mu         sync.Mutex
	latest     models.Result
	version    uint64
	read       bool
	overwrites uint64
	changed    chan struct{} // closed and replaced on every Publish
	closed     bool
}

func NewPublisher() *Publisher {
	return &Publisher{changed: make(chan struct{})}
}

// Publish replaces the latest result and wakes waiting readers.
// Publishing to a closed publisher is a no-op.
func (p *Publisher) Publish(r models.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if p.version > 0 && !p.read {
		p.overwrites++
	}
	p.latest = r
	p.version++
	p.read = false

	close(p.changed)
	p.changed = make(chan struct{})
}

// Latest returns the newest result and its version; ok is false before the
// first Publish.
func (p *Publisher) Latest() (r models.Result, version uint64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.version == 0 {
		return models.Result{}, 0, false
	}
	p.read = true
	return p.latest, p.version, true
}

// Next waits for a result with a version greater than after. Results
// published in between are skipped. It returns ErrPublisherClosed once the
// publisher is closed and nothing newer is available.
func (p *Publisher) Next(ctx context.Context, after uint64) (models.Result, uint64, error) {
	for {
		p.mu.Lock()
		if p.version > after {
			p.read = true
			r, v := p.latest, p.version
			p.mu.Unlock()
			return r, v, nil
		}
		if p.closed {
			p.mu.Unlock()
			return models.Result{}, after, ErrPublisherClosed
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Result{}, after, ctx.Err()
		case <-changed:
		}
	}
}

// Overwrites counts results replaced before any reader saw them.
func (p *Publisher) Overwrites() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overwrites
}

// Close wakes all readers. Idempotent.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.changed)
}
