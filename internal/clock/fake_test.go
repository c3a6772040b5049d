package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_AdvanceMovesNow(t *testing.T) {
	c := Fake(epoch)
	c.Advance(250 * time.Millisecond)
	assert.Equal(t, epoch.Add(250*time.Millisecond), c.Now())
}

func TestFakeClock_TickerDeliversOneBufferedTick(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	c.Advance(35 * time.Millisecond)

	select {
	case at := <-ticker.C():
		assert.Equal(t, epoch.Add(10*time.Millisecond), at)
	default:
		t.Fatal("expected a tick")
	}
	select {
	case <-ticker.C():
		t.Fatal("ticks beyond the buffer must be dropped")
	default:
	}
}

func TestFakeClock_AfterFuncRunsOnceAndCanBeStopped(t *testing.T) {
	c := Fake(epoch)
	calls := 0
	c.AfterFunc(time.Second, func() { calls++ })
	stopped := c.AfterFunc(time.Second, func() { calls += 100 })
	require.True(t, stopped.Stop())

	c.Advance(2 * time.Second)
	c.Advance(2 * time.Second)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, c.Pending())
}
