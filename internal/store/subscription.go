package store

import (
	"context"
	"sync"
	"time"

	applog "amigo.app/meal-ledger/internal/log"
)

// Subscription is a live query: it delivers the query result once, then again
// after every relevant ledger change, until cancelled. Only the most recent
// result is kept if the receiver falls behind.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Updates is closed when the subscription ends.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription and waits for it to wind down. It does not
// touch the store or any other subscription.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

type liveQuery[T any] struct {
	entity string
	query  func(context.Context) (T, error)
	// refreshIn, when set, forces a re-query after the returned delay even
	// without a write (the "today" window moves at midnight).
	refreshIn func() time.Duration
}

func watch[T any](ctx context.Context, n *Notifier, logger *applog.Logger, q liveQuery[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	events, unsubscribe := n.Subscribe(1, q.entity)

	s := &Subscription[T]{
		updates: make(chan T),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.updates)
		defer unsubscribe()

		var timer *time.Timer
		var timerC <-chan time.Time
		if q.refreshIn != nil {
			timer = time.NewTimer(q.refreshIn())
			defer timer.Stop()
			timerC = timer.C
		}

		dirty := true
		var pending T
		havePending := false

		for {
			if dirty {
				dirty = false
				v, err := q.query(ctx)
				switch {
				case err == nil:
					pending, havePending = v, true
				case ctx.Err() != nil:
					return
				default:
					fields := applog.NewFields().WithOperation(applog.OpList).WithError(err)
					fields["entity"] = q.entity
					logger.WarnContext(ctx, "Live query failed, waiting for next change", fields.ToSlice()...)
				}
			}

			var out chan T
			if havePending {
				out = s.updates
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				dirty = true
			case <-timerC:
				timer.Reset(q.refreshIn())
				dirty = true
			case out <- pending:
				havePending = false
			}
		}
	}()

	return s
}
