package xrpc

import (
	"sync"
	"time"
)

// timerHandle is an opaque, idempotent-cancel timer token. Each call needs
// two genuine independent timers (ack and response), so this wraps
// time.AfterFunc directly, making Stop safe to call more than once and
// from any goroutine.
type timerHandle struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// startTimer arms a timer that invokes fn after d, unless stopped first.
// A zero or negative d fires fn at once, but still asynchronously on the
// timer's own goroutine (time.AfterFunc), so "ack timeout 0" means
// "check on the next scheduler turn" rather than synchronously.
func startTimer(d time.Duration, fn func()) *timerHandle {
	h := &timerHandle{}
	h.t = time.AfterFunc(d, fn)
	return h
}

// Stop cancels the timer. Safe to call multiple times and concurrently;
// only the first call has any effect.
func (h *timerHandle) Stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.t.Stop()
}
