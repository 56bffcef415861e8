package clock

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic clock for tests. Advance moves time forward
// and fires any timers that come due, in order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake starts a fake clock at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, at: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// NewTicker registers a periodic tick. Ticks come due on Advance; a
// tick that nobody has drained yet is dropped, matching time.Ticker.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{clock: f, every: d, next: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// BlockUntilTickers waits until at least n tickers are registered, so
// a test can start a goroutine that creates its ticker and still
// advance the clock only after the ticker exists.
func (f *Fake) BlockUntilTickers(n int) {
	for {
		f.mu.Lock()
		ready := len(f.tickers) >= n
		f.mu.Unlock()
		if ready {
			return
		}
		runtime.Gosched()
	}
}

// Advance moves the clock forward and runs due callbacks outside the
// lock, so callbacks may schedule further timers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	deadline := f.now
	var due []*fakeTimer
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.at.After(deadline) {
			due = append(due, t)
		} else if !t.stopped {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining
	for _, t := range f.tickers {
		for !t.stopped && !t.next.After(deadline) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.every)
		}
	}
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fired = true
		t.fn()
	}
}

type fakeTimer struct {
	clock   *Fake
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeTicker struct {
	clock   *Fake
	every   time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
