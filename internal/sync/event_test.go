package sync

import (
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestEvent(t *testing.T) {
	assert := assert_.New(t)
	var e Event

	assert.False(e.IsSet())
	before := e.Wait()
	assert.False(closed(before))

	assert.True(e.Set())
	assert.False(e.Set())
	assert.True(e.IsSet())
	assert.True(closed(before))
	assert.True(closed(e.Wait()))

	assert.True(e.Clear())
	assert.False(e.Clear())
	assert.False(e.IsSet())
	assert.False(closed(e.Wait()))
	// A waiter from the previous cycle stays released
	assert.True(closed(before))
}

func TestEvent_WakesWaiters(t *testing.T) {
	assert := assert_.New(t)
	e := NewEvent()
	woken := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			<-e.Wait()
			woken <- i
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Len(woken, 0)
	e.Set()
	for i := 0; i < 3; i++ {
		select {
		case <-woken:
		case <-time.After(time.Second):
			t.Fatal("waiter was not released")
		}
	}
}
