package session

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

// Loop runs tasks one at a time on a single goroutine.
// Every mutation of a session (client actions, timer firings, relayed actions)
// goes through the session's loop, so Session itself needs no locking.
type Loop struct {
	name  string
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a loop; call Run to start draining it
func NewLoop(name string, buffer int) *Loop {
	return &Loop{
		name:  name,
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled or Stop is called
func (l *Loop) Run(ctx context.Context) {
	log.Debug().Str("loop", l.name).Msg("session loop started")

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			log.Debug().Str("loop", l.name).Msg("session loop cancelled")
			return
		case <-l.done:
			log.Debug().Str("loop", l.name).Msg("session loop stopped")
			return
		case task := <-l.tasks:
			l.run(task)
		}
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("loop", l.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic in session loop")
		}
	}()
	task()
}

// Post enqueues a task without waiting for it. It reports false once the loop is stopped.
func (l *Loop) Post(task func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- task:
		return true
	case <-l.done:
		return false
	}
}

// Do enqueues a task and waits until it has run
func (l *Loop) Do(ctx context.Context, task func()) error {
	started := make(chan struct{})
	finished := make(chan struct{})
	wrapped := func() {
		close(started)
		defer close(finished)
		task()
	}

	select {
	case l.tasks <- wrapped:
	case <-l.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// a task that already started always runs to completion
		select {
		case <-started:
			<-finished
			return nil
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the loop; queued tasks are dropped
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once the loop is stopped
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
