package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerReuse(t *testing.T) {
	fired := GetTimer(time.Millisecond)
	<-fired.C
	PutTimer(fired)

	// An expired timer handed back unread must not leak its tick.
	stale := GetTimer(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	PutTimer(stale)

	timer := GetTimer(50 * time.Millisecond)
	defer PutTimer(timer)
	select {
	case <-timer.C:
		t.Fatal("reused timer fired early")
	case <-time.After(20 * time.Millisecond):
	}
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("reused timer never fired")
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	assert.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start = time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Minute), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
