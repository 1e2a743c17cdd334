package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	calls atomic.Int64
	count int64
	err   error
}

func (f *fakePurger) PurgeExpired(context.Context) (int64, error) {
	f.calls.Add(1)
	return f.count, f.err
}

func TestRunOncePurges(t *testing.T) {
	purger := &fakePurger{count: 3}
	svc := NewService(time.Hour, purger)

	svc.runOnce(context.Background())

	assert.Equal(t, int64(1), purger.calls.Load())
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	purger := &fakePurger{err: assert.AnError}
	svc := NewService(time.Hour, purger)

	// Must not panic or propagate.
	svc.runOnce(context.Background())

	assert.Equal(t, int64(1), purger.calls.Load())
}

func TestStartSweepsImmediatelyAndStops(t *testing.T) {
	purger := &fakePurger{}
	svc := NewService(time.Hour, purger)

	svc.Start(context.Background())
	require.Eventually(t, func() bool {
		return purger.calls.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	svc.Stop()
	after := purger.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, purger.calls.Load())
}

func TestStartIsIdempotent(t *testing.T) {
	purger := &fakePurger{}
	svc := NewService(time.Hour, purger)

	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()

	assert.Equal(t, int64(1), purger.calls.Load())
}
