package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotDefaults(t *testing.T) {
	clock := newFakeClock()
	snap := NewSnapshot(30*time.Minute, clock.Now, sequentialIDs("s"))

	assert.Equal(t, "s-1", snap.ID())
	assert.True(t, testEpoch.Equal(snap.CreationTime()))
	assert.True(t, testEpoch.Equal(snap.LastAccessedTime()))
	assert.Equal(t, 30*time.Minute, snap.MaxInactiveInterval())
	assert.Empty(t, snap.AttributeNames())
}

func TestMaxInactiveIntervalWholeSeconds(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{in: -500 * time.Millisecond, want: -time.Second},
		{in: -time.Hour, want: -time.Second},
		{in: 0, want: 0},
		{in: time.Millisecond, want: time.Second},
		{in: 90*time.Second + 1, want: 91 * time.Second},
		{in: 30 * time.Minute, want: 30 * time.Minute},
	}
	for _, tt := range tests {
		snap := NewSnapshot(tt.in, nil, nil)
		assert.Equal(t, tt.want, snap.MaxInactiveInterval(), "NewSnapshot(%v)", tt.in)

		snap.SetMaxInactiveInterval(tt.in)
		assert.Equal(t, tt.want, snap.MaxInactiveInterval(), "SetMaxInactiveInterval(%v)", tt.in)
	}
}

func TestNewSnapshotGeneratesUniqueIDs(t *testing.T) {
	a := NewSnapshot(time.Minute, nil, nil)
	b := NewSnapshot(time.Minute, nil, nil)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSetAttributeNilRemoves(t *testing.T) {
	snap := NewSnapshot(time.Minute, nil, nil)
	require.NoError(t, snap.SetAttribute("k", "v"))
	v, ok := snap.StringAttribute("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, snap.SetAttribute("k", nil))
	_, ok = snap.Attribute("k")
	assert.False(t, ok)

	var nilMap map[string]string
	require.NoError(t, snap.SetAttribute("m", map[string]string{"a": "b"}))
	require.NoError(t, snap.SetAttribute("m", nilMap))
	_, ok = snap.Attribute("m")
	assert.False(t, ok, "a value encoding to null removes the attribute")
}

func TestSetAttributeRejectsBadInput(t *testing.T) {
	snap := NewSnapshot(time.Minute, nil, nil)
	assert.ErrorIs(t, snap.SetAttribute("", "v"), ErrInvalidAttribute)
	assert.ErrorIs(t, snap.SetAttribute("ch", make(chan int)), ErrInvalidAttribute)
}

func TestDecodeAttributeTypeMismatch(t *testing.T) {
	snap := NewSnapshot(time.Minute, nil, nil)
	require.NoError(t, snap.SetAttribute("n", 42))

	var s string
	ok, err := snap.DecodeAttribute("n", &s)
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrInvalidAttribute)

	_, ok = snap.StringAttribute("n")
	assert.False(t, ok)

	ok, err = snap.DecodeAttribute("missing", &s)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestLastAccessedTimeIsMonotonic(t *testing.T) {
	clock := newFakeClock()
	snap := NewSnapshot(time.Minute, clock.Now, nil)

	later := testEpoch.Add(10 * time.Second)
	snap.SetLastAccessedTime(later)
	assert.True(t, later.Equal(snap.LastAccessedTime()))

	snap.SetLastAccessedTime(testEpoch)
	assert.True(t, later.Equal(snap.LastAccessedTime()))
}

func TestLastAccessedTimeTruncatesToMillis(t *testing.T) {
	snap := NewSnapshot(time.Minute, newFakeClock().Now, nil)
	snap.SetLastAccessedTime(testEpoch.Add(time.Second + 1500*time.Microsecond))
	assert.Equal(t, testEpoch.Add(time.Second+time.Millisecond).UnixMilli(), snap.LastAccessedTime().UnixMilli())
	assert.Zero(t, snap.LastAccessedTime().Nanosecond()%int(time.Millisecond))
}

func TestIsExpiredBoundary(t *testing.T) {
	clock := newFakeClock()
	snap := NewSnapshot(30*time.Minute, clock.Now, nil)

	clock.Advance(30*time.Minute - time.Millisecond)
	assert.False(t, snap.IsExpired())

	clock.Advance(time.Millisecond)
	assert.True(t, snap.IsExpired(), "a session expires exactly at lastAccessed + interval")
}

func TestZeroIntervalIsImmediatelyExpired(t *testing.T) {
	snap := NewSnapshot(0, newFakeClock().Now, nil)
	assert.True(t, snap.IsExpired())
	expiry, ok := snap.ExpiryTime()
	assert.True(t, ok)
	assert.True(t, expiry.Equal(snap.LastAccessedTime()))
}

func TestNegativeIntervalNeverExpires(t *testing.T) {
	clock := newFakeClock()
	snap := NewSnapshot(-time.Second, clock.Now, nil)
	clock.Advance(24 * 365 * time.Hour)
	assert.False(t, snap.IsExpired())
	_, ok := snap.ExpiryTime()
	assert.False(t, ok)
}

func TestCopySnapshotIsDeep(t *testing.T) {
	src := NewSnapshot(time.Minute, newFakeClock().Now, nil)
	require.NoError(t, src.SetAttribute("k", []string{"a"}))

	dst := CopySnapshot(src)
	assert.Equal(t, src.ID(), dst.ID())
	assert.True(t, src.CreationTime().Equal(dst.CreationTime()))

	raw, _ := dst.Attribute("k")
	raw[1] = 'X'
	orig, _ := src.Attribute("k")
	assert.JSONEq(t, `["a"]`, string(orig))

	require.NoError(t, dst.SetAttribute("other", 1))
	_, ok := src.Attribute("other")
	assert.False(t, ok)

	assert.Nil(t, CopySnapshot(nil))
}

func TestAttributeNamesSorted(t *testing.T) {
	snap := NewSnapshot(time.Minute, nil, nil)
	for _, name := range []string{"b", "c", "a"} {
		require.NoError(t, snap.SetAttribute(name, 1))
	}
	assert.Equal(t, []string{"a", "b", "c"}, snap.AttributeNames())
}
