package session

import (
	"context"
	"log/slog"
	"sync"

	"webime/internal/logging"
)

// Loop runs posted work one item at a time on a single goroutine.
type Loop struct {
	queue    chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewLoop creates a loop whose queue holds depth pending items.
func NewLoop(depth int, logger *slog.Logger) *Loop {
	return &Loop{
		queue:  make(chan func(), depth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post queues fn. It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (l *Loop) Call(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Run processes work until ctx is cancelled or Stop is called. A panic in a
// work item is logged and does not end the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.queue:
			logging.Recover(l.logger, "session loop", fn)
		}
	}
}

// Stop makes Run return. Pending work is dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
