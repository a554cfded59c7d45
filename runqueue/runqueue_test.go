package runqueue

import (
	"testing"
	"time"

	"github.com/go-foundations/sandboxrt/admission"
	"github.com/go-foundations/sandboxrt/sandbox"
	"github.com/stretchr/testify/require"
)

func sandboxWith(deadline time.Duration, enqueuedAt time.Time) *sandbox.Sandbox {
	req := sandbox.NewRequest("m", nil, deadline, enqueuedAt)
	return sandbox.New(req, 0)
}

func TestFIFORunQueueOrdering(t *testing.T) {
	rq := New(admission.FIFO)
	now := time.Now()

	s1 := sandboxWith(time.Second, now)
	s2 := sandboxWith(time.Millisecond, now)
	s3 := sandboxWith(time.Minute, now)

	rq.Insert(s1)
	rq.Insert(s2)
	rq.Insert(s3)

	got1, _ := rq.Next()
	got2, _ := rq.Next()
	got3, _ := rq.Next()

	require.Same(t, s1, got1)
	require.Same(t, s2, got2)
	require.Same(t, s3, got3)
}

func TestEDFRunQueueOrdering(t *testing.T) {
	rq := New(admission.EDF)
	now := time.Now()

	s1 := sandboxWith(time.Second, now)
	s2 := sandboxWith(time.Millisecond, now)
	s3 := sandboxWith(time.Minute, now)

	rq.Insert(s1)
	rq.Insert(s2)
	rq.Insert(s3)

	got1, _ := rq.Next()
	got2, _ := rq.Next()
	got3, _ := rq.Next()

	require.Same(t, s2, got1)
	require.Same(t, s1, got2)
	require.Same(t, s3, got3)
}

func TestNextOnEmptyFails(t *testing.T) {
	rq := New(admission.FIFO)
	_, ok := rq.Next()
	require.False(t, ok)
}

func TestEvictExpired(t *testing.T) {
	rq := New(admission.FIFO)
	past := time.Now().Add(-time.Hour)

	expiredBox := sandboxWith(time.Millisecond, past)
	liveBox := sandboxWith(time.Hour, time.Now())

	rq.Insert(expiredBox)
	rq.Insert(liveBox)

	expired := rq.EvictExpired(time.Now())
	require.Len(t, expired, 1)
	require.Same(t, expiredBox, expired[0])
	require.Equal(t, sandbox.Error, expiredBox.State())
	require.Equal(t, sandbox.CauseDeadlineMissed, expiredBox.Cause())

	require.Equal(t, 1, rq.Len())
	remaining, ok := rq.Next()
	require.True(t, ok)
	require.Same(t, liveBox, remaining)
}
