// Package events implements the pull-based notification subsystem of
// spec.md §4.7: a bounded ring buffer of events per subscription, and
// serverAddEvent-style fan-out keyed by an event-mask bitmask. Modeled
// after the ring-buffer/cond-var guidance in spec.md §9 ("Ring buffer
// for events") — the teacher persists notifications as SQLite rows
// (internal/store's `notifications` table); spec.md's data model
// instead calls for an in-memory ring per subscription, so this
// package replaces that storage but keeps the teacher's event-name
// vocabulary (job-state-changed, job-created, ... from
// internal/store/subscription_test.go).
package events

import (
	"sync"
	"time"

	"github.com/thilo-hub/ippsample/internal/model"
)

// Mask bits for notify-events keywords (RFC 3995).
const (
	MaskPrinterStateChanged uint64 = 1 << iota
	MaskPrinterStopped
	MaskPrinterShutdown
	MaskPrinterRestarted
	MaskJobCreated
	MaskJobCompleted
	MaskJobStopped
	MaskJobConfigChanged
	MaskJobProgress
	MaskJobStateChanged
	MaskPrinterConfigChanged
	MaskResourceStateChanged
	MaskResourceChanged
)

var maskNames = map[string]uint64{
	"printer-state-changed":   MaskPrinterStateChanged,
	"printer-stopped":         MaskPrinterStopped,
	"printer-shutdown":        MaskPrinterShutdown,
	"printer-restarted":       MaskPrinterRestarted,
	"job-created":             MaskJobCreated,
	"job-completed":           MaskJobCompleted,
	"job-stopped":             MaskJobStopped,
	"job-config-changed":      MaskJobConfigChanged,
	"job-progress":            MaskJobProgress,
	"job-state-changed":       MaskJobStateChanged,
	"printer-config-changed":  MaskPrinterConfigChanged,
	"resource-state-changed":  MaskResourceStateChanged,
	"resource-changed":        MaskResourceChanged,
}

// MaskFromKeywords ORs together the mask bits named by kws. Unknown
// keywords are ignored (validated separately, per spec §4.3).
func MaskFromKeywords(kws []string) uint64 {
	var m uint64
	for _, k := range kws {
		m |= maskNames[k]
	}
	return m
}

// DefaultRingCapacity bounds each subscription's event queue absent an
// explicit configuration override.
const DefaultRingCapacity = 100

// WaitBound is the per-iteration bound on a blocking Get-Notifications
// wait (spec §4.7/§5): "bounded at 30 seconds per iteration."
const WaitBound = 30 * time.Second

// Bus fans events out to every subscription whose mask intersects the
// event, and wakes any Get-Notifications call blocked in Wait.
type Bus struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Add enqueues an event into every subscription in subs whose Events
// mask intersects eventMask, assigning sequence numbers as it goes
// (spec §4.7's serverAddEvent). Oldest events are evicted once a
// subscription's ring is full, and FirstSequence advances to match
// (invariant 3, spec §3/§8).
func (b *Bus) Add(subs []*model.Subscription, eventMask uint64, name string, p *model.Printer, j *model.Job, res *model.Resource, message string) {
	now := time.Now()
	for _, s := range subs {
		s.RWLock.Lock()
		if s.Events&eventMask == 0 {
			s.RWLock.Unlock()
			continue
		}
		if s.Job != nil && j != nil && s.Job != j {
			s.RWLock.Unlock()
			continue
		}
		if s.TimeInterval > 0 && !s.LastNotify.IsZero() &&
			now.Sub(s.LastNotify) < time.Duration(s.TimeInterval)*time.Second {
			s.RWLock.Unlock()
			continue
		}
		cap := s.RingCap
		if cap <= 0 {
			cap = DefaultRingCapacity
		}
		s.LastSequence++
		ev := model.Event{
			Sequence:  s.LastSequence,
			EventName: name,
			Time:      now,
			Printer:   p,
			Job:       j,
			Resource:  res,
			Message:   message,
		}
		s.Ring = append(s.Ring, ev)
		if len(s.Ring) > cap {
			s.Ring = s.Ring[len(s.Ring)-cap:]
		}
		s.FirstSequence = s.Ring[0].Sequence
		s.LastNotify = now
		s.RWLock.Unlock()
	}

	b.broadcast()
}

func (b *Bus) broadcast() {
	b.mu.Lock()
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// EventsSince returns every event in s with sequence >= since.
// Caller must hold at least s.RWLock for reading.
func EventsSince(s *model.Subscription, since int) []model.Event {
	if len(s.Ring) == 0 {
		return nil
	}
	out := make([]model.Event, 0, len(s.Ring))
	for _, ev := range s.Ring {
		if ev.Sequence >= since {
			out = append(out, ev)
		}
	}
	return out
}

// Wait blocks until Add is called or WaitBound elapses, whichever
// comes first. It never holds any object lock while blocked (spec §5).
func (b *Bus) Wait() {
	b.mu.Lock()
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	select {
	case <-ch:
	case <-time.After(WaitBound):
	}
}
