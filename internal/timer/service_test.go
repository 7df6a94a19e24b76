package timer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/processengine/internal/timer"
	"github.com/stretchr/testify/assert"
)

func TestSchedule_Fires(t *testing.T) {
	s := timer.New()
	done := make(chan struct{})
	s.Schedule(context.Background(), 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSchedule_Dispose(t *testing.T) {
	s := timer.New()
	var calls atomic.Int32
	sub := s.Schedule(context.Background(), 20*time.Millisecond, func() { calls.Add(1) })
	sub.Dispose()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Equal(t, 0, s.Active())
}

func TestSchedule_ContextCancel(t *testing.T) {
	s := timer.New()
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	s.Schedule(ctx, 20*time.Millisecond, func() { calls.Add(1) })
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestSchedule_ZeroDelay(t *testing.T) {
	s := timer.New()
	done := make(chan struct{})
	s.Schedule(context.Background(), 0, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero delay timer did not fire")
	}
}
