package pqueue

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func byValue(v int) uint64 { return uint64(v) }

func TestEnqueueDequeueOrdering(t *testing.T) {
	q := New[int](0, byValue)

	values := []int{5, 3, 8, 1, 9, 2}
	for _, v := range values {
		require.NoError(t, q.Enqueue(v))
	}

	var got []int
	for q.Len() > 0 {
		v, err := q.Dequeue()
		require.NoError(t, err)
		got = append(got, v)
	}

	require.Equal(t, []int{1, 2, 3, 5, 8, 9}, got)
}

func TestDequeueEmptyFails(t *testing.T) {
	q := New[int](0, byValue)
	_, err := q.Dequeue()
	require.ErrorIs(t, err, ErrQueueEmpty)
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New[int](0, byValue)
	require.NoError(t, q.Enqueue(4))
	require.NoError(t, q.Enqueue(2))

	v, err := q.Peek()
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, 2, q.Len())
}

func TestEnqueueFullFails(t *testing.T) {
	q := New[int](2, byValue)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))

	err := q.Enqueue(3)
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, 2, q.Len())
}

func TestDelete(t *testing.T) {
	q := New[int](0, byValue)
	for _, v := range []int{10, 20, 30, 40} {
		require.NoError(t, q.Enqueue(v))
	}

	require.True(t, q.Delete(20))
	require.False(t, q.Delete(20))

	var got []int
	for q.Len() > 0 {
		v, _ := q.Dequeue()
		got = append(got, v)
	}
	require.Equal(t, []int{10, 30, 40}, got)
}

// TestRoundTripIsMinimumAtEveryStep is the property test demanded by the
// round-trip law: enqueue N elements, dequeue N times, and the sequence is
// a sorted permutation of the inputs — and Peek always agrees with
// Dequeue at every intermediate step.
func TestRoundTripIsMinimumAtEveryStep(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	q := New[int](0, byValue)

	const n = 500
	input := make([]int, n)
	for i := range input {
		input[i] = r.Intn(10_000)
		require.NoError(t, q.Enqueue(input[i]))
	}

	var out []int
	for q.Len() > 0 {
		peeked, err := q.Peek()
		require.NoError(t, err)

		got, err := q.Dequeue()
		require.NoError(t, err)
		require.Equal(t, peeked, got, "peek must always agree with the next dequeue")

		out = append(out, got)
	}

	for i := 1; i < len(out); i++ {
		require.LessOrEqual(t, out[i-1], out[i])
	}
	require.Len(t, out, n)
}
