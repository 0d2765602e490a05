package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDeregister(t *testing.T) {
	r := New()

	a := r.Register()
	b := r.Register()
	assert.NotEqual(t, a, b)

	require.NoError(t, r.Deregister(a))
	c := r.Register()
	assert.Equal(t, a, c, "released ids may be reused")

	assert.Error(t, r.Deregister(a+b+c+100))
}

func TestNoLiveDuplicates(t *testing.T) {
	r := New()

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := r.Register()
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, r.Live())
	for id, count := range seen {
		assert.Equal(t, 1, count, "id %d handed out twice while live", id)
	}
}
