package screening

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakePurger) DeleteSessionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, f.err
}

func (f *fakePurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestRetentionSweepUsesCutoff(t *testing.T) {
	purger := &fakePurger{}
	w := NewRetentionWorker(purger, 24*time.Hour, time.Hour)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	assert.Equal(t, int64(2), w.Sweep(context.Background()))
	require.Len(t, purger.cutoffs, 1)
	assert.Equal(t, now.Add(-24*time.Hour), purger.cutoffs[0])

	purger.err = errors.New("disk I/O error")
	assert.Zero(t, w.Sweep(context.Background()))
}

func TestRetentionDisabled(t *testing.T) {
	purger := &fakePurger{}
	w := NewRetentionWorker(purger, 0, time.Hour)
	assert.False(t, w.Enabled())
	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, purger.calls())
}

func TestRetentionRunStopsOnCancel(t *testing.T) {
	purger := &fakePurger{}
	w := NewRetentionWorker(purger, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return purger.calls() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retention worker did not stop")
	}
}
