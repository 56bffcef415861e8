package clock

import "time"

// Clock abstracts wall time, delayed callbacks and periodic ticks so
// the transition countdown and the sync tick can be driven by a
// virtual clock in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports false if the callback has
	// already fired or been stopped.
	Stop() bool
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

func (System) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{time.AfterFunc(d, f)}
}

func (System) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool { return s.t.Stop() }

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }

func (s systemTicker) Stop() { s.t.Stop() }
