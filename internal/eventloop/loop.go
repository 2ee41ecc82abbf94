// Package eventloop runs callbacks one at a time on a single goroutine.
//
// Session state is only ever touched from inside a Loop; goroutines doing I/O
// and timers hand their results back with Post.
package eventloop

import (
	"sync"
	"time"
)

const defaultBuffer = 256

// Loop is a FIFO executor. The zero value is not usable; call New.
type Loop struct {
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run executes posted callbacks in order until Stop is called. Callbacks
// still queued at that point are discarded.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		default:
		}
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		}
	}
}

// Post queues fn. It returns false when the loop has stopped. Post must not
// be called from inside a callback when the buffer may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Call posts fn and waits until it ran. It returns false if the loop stopped
// before fn could run.
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
		// fn may have run as the last callback before Stop.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// AfterFunc posts fn to the loop once d has elapsed. The returned function
// cancels the timer and reports whether it was still pending.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() bool {
	timer := time.AfterFunc(d, func() {
		l.Post(fn)
	})
	return timer.Stop
}

// Stop ends Run after the current callback. Safe to call from a callback and
// more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
