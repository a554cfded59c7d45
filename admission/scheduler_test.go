package admission

import (
	"io"
	"testing"
	"time"

	"github.com/go-foundations/sandboxrt/sandbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// TestFIFOOrdering is end-to-end scenario 1: admit r1, r2, r3 in order and
// expect dispatch order r1, r2, r3 regardless of deadline.
func TestFIFOOrdering(t *testing.T) {
	s := New(FIFO, 0, testLogger())

	now := time.Now()
	r1 := sandbox.NewRequest("m", nil, 100*time.Millisecond, now)
	r2 := sandbox.NewRequest("m", nil, 10*time.Millisecond, now.Add(time.Millisecond))
	r3 := sandbox.NewRequest("m", nil, 50*time.Millisecond, now.Add(2*time.Millisecond))

	_, ok := s.Add(r1)
	require.True(t, ok)
	_, ok = s.Add(r2)
	require.True(t, ok)
	_, ok = s.Add(r3)
	require.True(t, ok)

	got1, _ := s.Remove()
	got2, _ := s.Remove()
	got3, _ := s.Remove()

	require.Equal(t, r1.ID, got1.ID)
	require.Equal(t, r2.ID, got2.ID)
	require.Equal(t, r3.ID, got3.ID)
}

// TestEDFPreference is end-to-end scenario 2.
func TestEDFPreference(t *testing.T) {
	s := New(EDF, 0, testLogger())

	t0 := time.Now()
	r1 := sandbox.NewRequest("m", nil, 100*time.Millisecond, t0)
	r2 := sandbox.NewRequest("m", nil, 10*time.Millisecond, t0)
	r3 := sandbox.NewRequest("m", nil, 50*time.Millisecond, t0)

	s.Add(r1)
	s.Add(r2)
	s.Add(r3)

	got1, _ := s.Remove()
	got2, _ := s.Remove()
	got3, _ := s.Remove()

	require.Equal(t, r2.ID, got1.ID)
	require.Equal(t, r3.ID, got2.ID)
	require.Equal(t, r1.ID, got3.ID)
}

// TestCapacityRejection is end-to-end scenario 6.
func TestCapacityRejection(t *testing.T) {
	s := New(FIFO, 2, testLogger())

	r1 := sandbox.NewRequest("m", nil, time.Second, time.Now())
	r2 := sandbox.NewRequest("m", nil, time.Second, time.Now())
	r3 := sandbox.NewRequest("m", nil, time.Second, time.Now())

	_, ok := s.Add(r1)
	require.True(t, ok)
	_, ok = s.Add(r2)
	require.True(t, ok)

	_, ok = s.Add(r3)
	require.False(t, ok)

	first, ok := s.Remove()
	require.True(t, ok)
	require.Equal(t, r1.ID, first.ID)
}

func TestRemoveFromEmptyFails(t *testing.T) {
	s := New(FIFO, 0, testLogger())
	_, ok := s.Remove()
	require.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("EDF")
	require.NoError(t, err)
	require.Equal(t, EDF, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, FIFO, p)

	_, err = ParsePolicy("bogus")
	require.Error(t, err)
}
