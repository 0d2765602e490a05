package inflight

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairing(t *testing.T) {
	c := New()
	assert.Equal(t, int64(0), c.Size())

	c.Increase()
	c.Increase()
	assert.Equal(t, int64(2), c.Size())

	c.Decrease()
	c.Decrease()
	assert.Equal(t, int64(0), c.Size())
}

func TestWaitUntilEmpty(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Increase()
	}

	done := make(chan struct{})
	go func() {
		c.WaitUntilEmpty()
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			c.Decrease()
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilEmpty did not return after counter hit zero")
	}
	assert.Equal(t, int64(0), c.Size())
}

func TestWaitUntilFirst(t *testing.T) {
	c := New()

	done := make(chan struct{})
	go func() {
		c.WaitUntilFirst()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitUntilFirst returned before any Increase")
	case <-time.After(20 * time.Millisecond):
	}

	c.Increase()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilFirst did not observe the first increment")
	}

	// The latch persists even after the counter drains.
	c.Decrease()
	c.WaitUntilFirst()
}
