package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleOnceFires(t *testing.T) {
	svc, err := New(nil, Config{PoolSize: 4}, nil)
	require.NoError(t, err)
	defer svc.Shutdown()

	var fired int32
	svc.ScheduleOnce(20*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelPreventsFiring(t *testing.T) {
	svc, err := New(nil, Config{PoolSize: 4}, nil)
	require.NoError(t, err)
	defer svc.Shutdown()

	var fired int32
	h := svc.ScheduleOnce(30*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	svc.Cancel(h)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestSchedulePeriodicFiresMultipleTimes(t *testing.T) {
	svc, err := New(nil, Config{PoolSize: 4}, nil)
	require.NoError(t, err)
	defer svc.Shutdown()

	var count int32
	h := svc.SchedulePeriodic(5*time.Millisecond, 10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 3
	}, time.Second, 5*time.Millisecond)
	svc.Cancel(h)
}

func TestShutdownDrainsTimers(t *testing.T) {
	svc, err := New(nil, Config{PoolSize: 4}, nil)
	require.NoError(t, err)

	svc.ScheduleOnce(time.Minute, func() {})
	svc.ScheduleOnce(time.Minute, func() {})
	assert.Equal(t, 2, svc.PendingCount())

	svc.Shutdown()
	assert.Equal(t, 0, svc.PendingCount())
}

func TestFakeClockAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	f := NewFake(base)
	assert.Equal(t, base, f.Now())
	f.Advance(35 * time.Second)
	assert.Equal(t, base.Add(35*time.Second), f.Now())
}
