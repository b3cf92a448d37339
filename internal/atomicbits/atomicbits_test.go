package atomicbits

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint64IncAndAdd(t *testing.T) {
	var c Uint64
	require.Equal(t, uint64(1), c.Inc())
	require.Equal(t, uint64(4), c.Add(3))
	c.Store(10)
	require.Equal(t, uint64(10), c.Load())
}

func TestInt32CompareAndSwap(t *testing.T) {
	var c Int32
	c.Store(5)
	require.True(t, c.CompareAndSwap(5, 9))
	require.Equal(t, int32(9), c.Load())
	require.False(t, c.CompareAndSwap(5, 1), "CAS must fail once the old value no longer matches")
}

func TestBool(t *testing.T) {
	var b Bool
	require.False(t, b.Load())
	b.Store(true)
	require.True(t, b.Load())
}

func TestInt64ConcurrentAdd(t *testing.T) {
	var c Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(1)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(100), c.Load())
}
