package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualScheduler_FiresInDeadlineOrder(t *testing.T) {
	s := NewManualScheduler(epoch)
	var got []string

	s.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	s.AfterFunc(time.Second, func() { got = append(got, "a") })
	s.AfterFunc(time.Second, func() { got = append(got, "b") })

	assert.Equal(t, 0, s.Advance(999*time.Millisecond))
	assert.Empty(t, got)

	assert.Equal(t, 2, s.Advance(time.Millisecond))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, s.Pending())

	assert.Equal(t, 1, s.Advance(10*time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(11*time.Second), s.Now())
}

func TestManualScheduler_NowDuringCallback(t *testing.T) {
	s := NewManualScheduler(epoch)
	var at time.Time
	s.AfterFunc(2*time.Second, func() { at = s.Now() })

	s.Advance(time.Minute)
	assert.Equal(t, epoch.Add(2*time.Second), at)
}

func TestManualScheduler_Stop(t *testing.T) {
	s := NewManualScheduler(epoch)
	fired := false
	stop := s.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, stop())
	assert.False(t, stop(), "second stop reports nothing pending")
	s.Advance(time.Hour)
	assert.False(t, fired)
}

func TestManualScheduler_NestedScheduling(t *testing.T) {
	s := NewManualScheduler(epoch)
	var got []int
	s.AfterFunc(time.Second, func() {
		got = append(got, 1)
		s.AfterFunc(time.Second, func() { got = append(got, 2) })
	})

	assert.Equal(t, 2, s.Advance(5*time.Second))
	assert.Equal(t, []int{1, 2}, got)
}

func TestManualScheduler_FireAll(t *testing.T) {
	s := NewManualScheduler(epoch)
	count := 0
	for i := 1; i <= 4; i++ {
		s.AfterFunc(time.Duration(i)*time.Minute, func() { count++ })
	}

	assert.Equal(t, 4, s.FireAll())
	assert.Equal(t, 4, count)
	assert.Zero(t, s.Pending())
}

func TestManualScheduler_ConcurrentAfterFunc(t *testing.T) {
	s := NewManualScheduler(epoch)
	var (
		mu    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AfterFunc(time.Second, func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 50, s.Pending())
	s.Advance(time.Second)
	assert.Equal(t, 50, count)
}
