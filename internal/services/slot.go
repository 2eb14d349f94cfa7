package services

import "sync/atomic"

// Slot is a one-element handoff that keeps only the newest value: Offer
// never blocks and replaces an unconsumed value. It is meant for one
// producer and one consumer; extra producers are safe but may spin briefly.
type Slot[T any] struct {
	ch    chan T
	drops atomic.Uint64
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Offer stores v and reports whether an unconsumed value was dropped.
func (s *Slot[T]) Offer(v T) (replaced bool) {
	for {
		select {
		case s.ch <- v:
			return replaced
		default:
		}
		select {
		case <-s.ch:
			replaced = true
			s.drops.Add(1)
		default:
		}
	}
}

// C is the consumer side.
func (s *Slot[T]) C() <-chan T {
	return s.ch
}

// Drain discards a pending value and reports how many were discarded.
func (s *Slot[T]) Drain() int {
	select {
	case <-s.ch:
		return 1
	default:
		return 0
	}
}

// Drops counts values replaced before they were consumed.
func (s *Slot[T]) Drops() uint64 {
	return s.drops.Load()
}
