package limiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryAcquireIsExclusivePerKey(t *testing.T) {
	l := New()

	assert.True(t, l.TryAcquire("reportjob"))
	assert.False(t, l.TryAcquire("reportjob"))
	assert.True(t, l.TryAcquire("archivejob"))
	assert.Equal(t, []string{"archivejob", "reportjob"}, l.Active())

	l.Release("reportjob")
	_, held := l.Since("reportjob")
	assert.False(t, held)
	assert.True(t, l.TryAcquire("reportjob"))
}

func TestSinceReportsAcquireTime(t *testing.T) {
	l := New()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return at }

	_, held := l.Since("monitoringjob")
	assert.False(t, held)

	assert.True(t, l.TryAcquire("monitoringjob"))
	since, held := l.Since("monitoringjob")
	assert.True(t, held)
	assert.Equal(t, at, since)

	// a refused acquire keeps the original time
	l.now = func() time.Time { return at.Add(time.Hour) }
	assert.False(t, l.TryAcquire("monitoringjob"))
	since, _ = l.Since("monitoringjob")
	assert.Equal(t, at, since)
}

func TestReleaseUnknownKeyIsNoop(t *testing.T) {
	l := New()
	l.Release("missing")
	assert.Empty(t, l.Active())
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	l := New()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire("monitoringjob") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
