package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNSEWithinHours(t *testing.T) {
	c := NewISTCalendar()
	mon := time.Date(2026, 8, 3, 10, 0, 0, 0, c.loc) // Monday
	assert.True(t, c.IsTradeable("NSE", mon))
}

func TestNSEBeforeOpen(t *testing.T) {
	c := NewISTCalendar()
	mon := time.Date(2026, 8, 3, 9, 0, 0, 0, c.loc)
	assert.False(t, c.IsTradeable("NSE", mon))
}

func TestNSEWeekend(t *testing.T) {
	c := NewISTCalendar()
	sat := time.Date(2026, 8, 1, 10, 0, 0, 0, c.loc)
	assert.False(t, c.IsTradeable("NSE", sat))
}

func TestMCXLateSession(t *testing.T) {
	c := NewISTCalendar()
	mon := time.Date(2026, 8, 3, 23, 0, 0, 0, c.loc)
	assert.True(t, c.IsTradeable("MCX", mon))
}

func TestUnknownExchange(t *testing.T) {
	c := NewISTCalendar()
	mon := time.Date(2026, 8, 3, 10, 0, 0, 0, c.loc)
	assert.False(t, c.IsTradeable("CRYPTO", mon))
}
