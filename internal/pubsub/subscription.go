// Package pubsub fans values out from one Publisher to any number of buffered subscriptions.
package pubsub

import "sync"

// Receiver is the consuming end of a subscription. Receive's channel is closed when the subscription ends.
type Receiver[T any] interface {
	Receive() <-chan T
	// Close ends the subscription. Values already buffered can still be received.
	Close()
}

type subscription[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
	// Held shared for the duration of a send, so that ch is never closed under a sender.
	mu     sync.RWMutex
	closed bool
}

func newSubscription[T any](bufSize int) *subscription[T] {
	return &subscription[T]{
		ch:   make(chan T, bufSize),
		done: make(chan struct{}),
	}
}

func (s *subscription[T]) Receive() <-chan T {
	return s.ch
}

// send blocks until the value is buffered or the subscription is closed. Returns false in the latter case.
func (s *subscription[T]) send(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	}
}

func (s *subscription[T]) Close() {
	s.once.Do(func() {
		// Release blocked senders before waiting for them to let go of the lock
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		close(s.ch)
	})
}
