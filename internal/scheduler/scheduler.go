// Package scheduler implements the Ticket Scheduler (C3): an interval-based
// gate that decides when each periodic service is due to run, without
// letting drift accumulate faster than one cycle.
package scheduler

import (
	"sync"
	"time"

	"github.com/kloudnuk/bacnet-gateway/internal/model"
)

// Clock is the time source the scheduler consults; tests substitute a fake
// to control cadence without sleeping.
type Clock func() time.Time

// Scheduler gates periodic services by section name. Service order is
// insertion order; there is no priority between sections.
type Scheduler struct {
	mu      sync.Mutex
	now     Clock
	tickets map[string]*model.Ticket
	expired map[string]bool
}

// New builds a Scheduler using the real wall clock.
func New() *Scheduler {
	return NewWithClock(time.Now)
}

// NewWithClock builds a Scheduler against an injected clock, for tests.
func NewWithClock(clock Clock) *Scheduler {
	return &Scheduler{
		now:     clock,
		tickets: make(map[string]*model.Ticket),
		expired: make(map[string]bool),
	}
}

// CheckTicket implements the §4.3 contract: if no ticket exists for
// section and interval is supplied (> 0), create one and return false. If a
// ticket exists and has expired, mark it expired, record it, and return
// true. Otherwise return false.
func (s *Scheduler) CheckTicket(section string, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, exists := s.tickets[section]
	now := s.now()

	if !exists {
		if interval > 0 {
			s.tickets[section] = &model.Ticket{
				Section:   section,
				CreatedAt: now.Unix(),
				ExpiresAt: now.Add(interval).Unix(),
				Status:    model.TicketActive,
			}
		}
		return false
	}

	if ticket.Status == model.TicketActive && now.Unix() >= ticket.ExpiresAt {
		ticket.Status = model.TicketExpired
		s.expired[section] = true
		return true
	}
	return false
}

// Sweep removes every ticket whose section is in the expired list, and
// should be invoked on a 10-second background timer per §4.3.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for section := range s.expired {
		delete(s.tickets, section)
		delete(s.expired, section)
	}
}

// Run starts the background sweep loop; it returns when stop is closed.
func (s *Scheduler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// TicketCount reports the number of live tickets, used in tests.
func (s *Scheduler) TicketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
