// Package undo keeps the single time-boxed "undo" notice shown after an
// action. A new notice replaces the old one and silently drops its
// reversal; there is no queue.
package undo

import (
	"sync"
	"time"
)

const DefaultDuration = 5 * time.Second

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timerAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Notice struct {
	Seq       uint64
	Message   string
	ExpiresAt time.Time
	Undoable  bool
}

type record struct {
	notice  Notice
	reverse func()
	stop    func() bool
}

type Coordinator struct {
	duration time.Duration
	now      func() time.Time
	after    AfterFunc
	onExpire func(Notice)

	mu      sync.Mutex
	seq     uint64
	current *record
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithAfterFunc replaces the timer. Passing nil leaves expiry to the host,
// which calls Expire(seq) when its own timer fires.
func WithAfterFunc(af AfterFunc) Option {
	return func(c *Coordinator) { c.after = af }
}

// WithOnExpire is called, outside the lock, when a notice times out.
func WithOnExpire(fn func(Notice)) Option {
	return func(c *Coordinator) { c.onExpire = fn }
}

func New(d time.Duration, opts ...Option) *Coordinator {
	if d <= 0 {
		d = DefaultDuration
	}
	c := &Coordinator{
		duration: d,
		now:      time.Now,
		after:    timerAfterFunc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Duration() time.Duration { return c.duration }

// Show replaces the live notice. reverse may be nil for a notice that only
// informs. The replaced notice's reversal is discarded without running.
func (c *Coordinator) Show(message string, reverse func()) Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.seq++
	rec := &record{
		notice: Notice{
			Seq:       c.seq,
			Message:   message,
			ExpiresAt: c.now().Add(c.duration),
			Undoable:  reverse != nil,
		},
		reverse: reverse,
	}
	if c.after != nil {
		seq := c.seq
		rec.stop = c.after(c.duration, func() { c.Expire(seq) })
	}
	c.current = rec
	return rec.notice
}

func (c *Coordinator) Current() (Notice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notice{}, false
	}
	return c.current.notice, true
}

// Dismiss hides the live notice without running its reversal.
func (c *Coordinator) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearLocked()
}

// Undo runs the live notice's reversal once and dismisses it. It reports
// false when there is nothing to undo.
func (c *Coordinator) Undo() bool {
	c.mu.Lock()
	rec := c.current
	if rec == nil || rec.reverse == nil {
		c.mu.Unlock()
		return false
	}
	c.clearLocked()
	c.mu.Unlock()

	rec.reverse()
	return true
}

// Expire ends the notice with the given seq. Stale seqs, from a notice that
// was already replaced or dismissed, are ignored.
func (c *Coordinator) Expire(seq uint64) bool {
	c.mu.Lock()
	rec := c.current
	if rec == nil || rec.notice.Seq != seq {
		c.mu.Unlock()
		return false
	}
	c.current = nil
	c.mu.Unlock()

	if c.onExpire != nil {
		c.onExpire(rec.notice)
	}
	return true
}

func (c *Coordinator) clearLocked() bool {
	rec := c.current
	if rec == nil {
		return false
	}
	if rec.stop != nil {
		rec.stop()
	}
	c.current = nil
	return true
}
