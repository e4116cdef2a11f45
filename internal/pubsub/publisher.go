package pubsub

import (
	"errors"

	"github.com/alanbriolat/channel-archiver/generic"
	sync_ "github.com/alanbriolat/channel-archiver/internal/sync"
)

var ErrPublisherClosed = errors.New("publisher closed")

type subscribers[T any] struct {
	set    generic.Set[*subscription[T]]
	closed bool
}

// Publisher delivers every sent value to every open subscription, in the order Send is called. A subscriber that
// stops receiving eventually blocks Send.
type Publisher[T any] struct {
	subs *sync_.Mutexed[subscribers[T]]
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{
		subs: sync_.NewMutexed(subscribers[T]{set: generic.NewSet[*subscription[T]]()}),
	}
}

// Subscribe adds a subscription that buffers up to bufSize values.
func (p *Publisher[T]) Subscribe(bufSize int) (Receiver[T], error) {
	s := newSubscription[T](bufSize)
	err := p.subs.Locked(func(subs *subscribers[T]) error {
		if subs.closed {
			return ErrPublisherClosed
		}
		subs.set.Add(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Send delivers v to the current subscribers, dropping any that have been closed. Returns false once the publisher is
// closed.
func (p *Publisher[T]) Send(v T) bool {
	var targets []*subscription[T]
	err := p.subs.Locked(func(subs *subscribers[T]) error {
		if subs.closed {
			return ErrPublisherClosed
		}
		targets = subs.set.ToSlice()
		return nil
	})
	if err != nil {
		return false
	}
	for _, s := range targets {
		if !s.send(v) {
			_ = p.subs.Locked(func(subs *subscribers[T]) error {
				subs.set.Remove(s)
				return nil
			})
		}
	}
	return true
}

// Close ends every subscription. It is safe to call more than once.
func (p *Publisher[T]) Close() {
	var targets []*subscription[T]
	_ = p.subs.Locked(func(subs *subscribers[T]) error {
		if subs.closed {
			return nil
		}
		subs.closed = true
		targets = subs.set.ToSlice()
		subs.set = generic.NewSet[*subscription[T]]()
		return nil
	})
	for _, s := range targets {
		s.Close()
	}
}
