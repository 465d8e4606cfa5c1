package workerpool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelForCoversRangeOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 8, 100} {
		p := New(workers)
		hits := make([]int32, 37)
		p.ParallelFor(len(hits), func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			assert.Equalf(t, int32(1), h, "workers=%d index=%d", workers, i)
		}
	}
}

func TestParallelForNilPoolRunsInline(t *testing.T) {
	var p *Pool
	calls := 0
	p.ParallelFor(10, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, p.NumWorkers())
}

func TestParallelForErrReturnsError(t *testing.T) {
	p := New(4)
	boom := errors.New("boom")
	err := p.ParallelForErr(100, func(start, end int) error {
		if start == 0 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestParallelForEmpty(t *testing.T) {
	p := New(4)
	called := false
	p.ParallelFor(0, func(start, end int) { called = true })
	assert.False(t, called)
}
