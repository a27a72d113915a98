package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckTicketCreatesThenExpires(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	s := NewWithClock(clock)

	assert.False(t, s.CheckTicket("point-polling", 5*time.Second))
	assert.Equal(t, 1, s.TicketCount())

	// not yet due
	assert.False(t, s.CheckTicket("point-polling", 5*time.Second))

	current = current.Add(5 * time.Second)
	assert.True(t, s.CheckTicket("point-polling", 5*time.Second))

	s.Sweep()
	assert.Equal(t, 0, s.TicketCount())
}

func TestCheckTicketMonotonicity(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	s := NewWithClock(clock)

	s.CheckTicket("device-discovery", 10*time.Second)

	current = current.Add(9 * time.Second)
	assert.False(t, s.CheckTicket("device-discovery", 10*time.Second))

	current = current.Add(1 * time.Second)
	assert.True(t, s.CheckTicket("device-discovery", 10*time.Second))
}

func TestSweepOnlyRemovesExpiredSections(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	s := NewWithClock(clock)

	s.CheckTicket("a", 5*time.Second)
	s.CheckTicket("b", 100*time.Second)

	current = current.Add(5 * time.Second)
	assert.True(t, s.CheckTicket("a", 5*time.Second))
	assert.False(t, s.CheckTicket("b", 100*time.Second))

	s.Sweep()
	assert.Equal(t, 1, s.TicketCount())
}
