// Package relay holds what the Relay Channel adapters share: Feed, the
// delivery queue behind every subscription they hand out.
package relay

import (
	"context"
	"sync"
)

// Feed delivers pushed values to one subscriber in push order. Push never
// blocks; the backlog is held until the subscriber reads it or the feed closes.
type Feed[T any] struct {
	out     chan T
	notify  chan struct{}
	done    chan struct{}
	onClose func()

	mu    sync.Mutex
	queue []T
	err   error
	once  sync.Once
}

// NewFeed starts a feed that closes itself when ctx ends. onClose, if set,
// runs once when the feed closes and is where adapters unregister it.
func NewFeed[T any](ctx context.Context, onClose func()) *Feed[T] {
	f := &Feed[T]{
		out:     make(chan T),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go f.run()
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-f.done:
		}
	}()
	return f
}

// Push queues v and reports whether the feed was still open.
func (f *Feed[T]) Push(v T) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	f.mu.Lock()
	f.queue = append(f.queue, v)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return true
}

func (f *Feed[T]) Events() <-chan T {
	return f.out
}

func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed[T]) Close() {
	f.CloseWithError(nil)
}

// CloseWithError ends the feed; err is reported by Err.
func (f *Feed[T]) CloseWithError(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
		if f.onClose != nil {
			f.onClose()
		}
	})
}

func (f *Feed[T]) run() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-f.notify:
				continue
			case <-f.done:
				return
			}
		}
		v := f.queue[0]
		var zero T
		f.queue[0] = zero
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- v:
		case <-f.done:
			return
		}
	}
}
