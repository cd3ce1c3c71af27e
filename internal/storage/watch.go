package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// broker fans a "something committed" signal out to live subscriptions.
type broker struct {
	mu   sync.Mutex
	subs map[string]chan struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]chan struct{})}
}

func (b *broker) register() (string, <-chan struct{}) {
	id := uuid.New().String()
	// One slot: signals that arrive while a reload is pending coalesce.
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *broker) unregister(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func (b *broker) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription delivers a fresh result on C once at start and again after
// every committed write to the store. Results are delivered in order, and a
// receiver that falls behind only ever sees the newest one. C is closed when
// the subscription ends.
type Subscription[T any] struct {
	ID string

	c      chan T
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// C returns the channel that receives results.
func (s *Subscription[T]) C() <-chan T { return s.c }

// Close stops the subscription. It has no effect on the store and is safe to
// call more than once.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has stopped.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err returns the load error that ended the subscription, if any.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func subscribe[T any](ctx context.Context, b *broker, logger *slog.Logger, load func(context.Context) (T, error)) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	id, signal := b.register()

	s := &Subscription[T]{
		ID:     id,
		c:      make(chan T),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.c)
		defer b.unregister(id)

		var (
			latest  T
			have    bool
			pending = true
		)
		for {
			if pending {
				pending = false
				v, err := load(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logger.Warn("subscription load failed", "subscription", id, "error", err)
						s.mu.Lock()
						s.err = err
						s.mu.Unlock()
					}
					return
				}
				latest, have = v, true
			}

			var out chan<- T
			if have {
				out = s.c
			}
			select {
			case <-ctx.Done():
				return
			case <-signal:
				pending = true
			case out <- latest:
				have = false
			}
		}
	}()

	return s
}
