package helpers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	err := FoldErrors([]error{fmt.Errorf("a"), nil, fmt.Errorf("b 100%%")})
	require.Error(t, err)
	assert.Equal(t, "a\nb 100%", err.Error())
}

func TestAtomicErrorOnce(t *testing.T) {
	t.Parallel()

	var a AtomicError
	_, ok := a.Load()
	assert.False(t, ok)
	var wg sync.WaitGroup
	wins := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := fmt.Errorf("e%d", i)
			if _, was := a.StoreOnce(e); !was {
				wins <- e
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	require.Len(t, wins, 1)
	first := <-wins
	got, ok := a.Load()
	assert.True(t, ok)
	assert.Equal(t, first, got)
}

func TestDurationDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7*time.Second, IntSecondDefault(0, 7*time.Second))
	assert.Equal(t, 3*time.Second, IntSecondDefault(3, 7*time.Second))
	assert.Equal(t, 10*time.Millisecond, IntMillisecondDefault(0, 10*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, IntMillisecondDefault(250, 10*time.Millisecond))
}

func TestMustHex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0xf8, 0x04}, MustHex("f804"))
	assert.Panics(t, func() { MustHex("zz") })
}
