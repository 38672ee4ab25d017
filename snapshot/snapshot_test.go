package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycastiel/kudu/timestamp"
)

func TestConstructionForms(t *testing.T) {
	empty := New()
	require.Equal(t, timestamp.Initial, empty.AllCommittedBefore)
	require.Equal(t, timestamp.Initial, empty.NoneCommittedAtOrAfter)
	require.True(t, empty.IsClean())
	require.False(t, empty.IsCommitted(timestamp.Initial))

	at := From(5)
	require.True(t, at.IsCommitted(4))
	require.False(t, at.IsCommitted(5))
	require.False(t, at.IsCommitted(6))

	all := AllOps()
	require.True(t, all.IsCommitted(0))
	require.True(t, all.IsCommitted(timestamp.Max-1))

	none := NoOps()
	require.False(t, none.IsCommitted(0))
	require.False(t, none.IsCommitted(1))
}

func TestIsCommittedWithExceptions(t *testing.T) {
	s := From(3)
	s.AddCommitted(5)
	s.AddCommitted(8)

	require.True(t, s.IsCommitted(2))
	require.False(t, s.IsCommitted(3))
	require.False(t, s.IsCommitted(4))
	require.True(t, s.IsCommitted(5))
	require.False(t, s.IsCommitted(7))
	require.True(t, s.IsCommitted(8))
	require.False(t, s.IsCommitted(9))
}

func TestMayHaveCommittedOpsAtOrAfter(t *testing.T) {
	s := From(3)
	require.True(t, s.MayHaveCommittedOpsAtOrAfter(2))
	require.False(t, s.MayHaveCommittedOpsAtOrAfter(3))

	s.AddCommitted(7)
	require.True(t, s.MayHaveCommittedOpsAtOrAfter(7))
	require.False(t, s.MayHaveCommittedOpsAtOrAfter(8))
}

func TestMayHaveUncommittedOpsAtOrBefore(t *testing.T) {
	s := From(3)
	require.False(t, s.MayHaveUncommittedOpsAtOrBefore(2))
	require.True(t, s.MayHaveUncommittedOpsAtOrBefore(4))

	// At the watermark itself: uncommitted unless the exact timestamp is in
	// the exception list.
	require.True(t, s.MayHaveUncommittedOpsAtOrBefore(3))
	s.AddCommitted(3)
	require.False(t, s.MayHaveUncommittedOpsAtOrBefore(3))
}

func TestAddCommittedIdempotent(t *testing.T) {
	s := New()
	s.AddCommitted(4)
	s.AddCommitted(4)
	require.Equal(t, []timestamp.Timestamp{4}, s.CommittedTimestamps)
	require.Equal(t, timestamp.Timestamp(5), s.NoneCommittedAtOrAfter)

	// Below the floor: already committed, so also a no-op.
	s.AdvanceFloor(6)
	s.AddCommitted(2)
	require.Empty(t, s.CommittedTimestamps)
}

func TestAddCommittedTimestamps(t *testing.T) {
	s := New()
	s.AddCommittedTimestamps([]timestamp.Timestamp{4, 2, 4})
	require.Equal(t, []timestamp.Timestamp{4, 2}, s.CommittedTimestamps)
	require.True(t, s.IsCommitted(2))
	require.True(t, s.IsCommitted(4))
	require.False(t, s.IsCommitted(3))
}

func TestAdvanceFloor(t *testing.T) {
	s := New()
	s.AddCommitted(2)
	s.AddCommitted(5)
	s.AddCommitted(9)

	s.AdvanceFloor(6)
	require.Equal(t, timestamp.Timestamp(6), s.AllCommittedBefore)
	require.Equal(t, []timestamp.Timestamp{9}, s.CommittedTimestamps)
	require.Equal(t, timestamp.Timestamp(10), s.NoneCommittedAtOrAfter)

	// Idempotent.
	before := s.Clone()
	s.AdvanceFloor(6)
	require.True(t, s.Equals(before))

	// Passing the last exception empties the list and pulls the upper
	// bound to the floor.
	s.AdvanceFloor(10)
	require.Empty(t, s.CommittedTimestamps)
	require.Equal(t, timestamp.Timestamp(10), s.NoneCommittedAtOrAfter)
	require.True(t, s.IsClean())
}

func TestString(t *testing.T) {
	s := From(1)
	require.Equal(t, "MvccSnapshot[committed={T|T < 1}]", s.String())

	s.AddCommitted(2)
	s.AddCommitted(3)
	require.Equal(t, "MvccSnapshot[committed={T|T < 1 or (T in {2,3})}]", s.String())
}

func TestCloneIndependence(t *testing.T) {
	s := From(1)
	s.AddCommitted(3)

	c := s.Clone()
	s.AddCommitted(5)
	s.AdvanceFloor(4)

	require.True(t, c.IsCommitted(3))
	require.False(t, c.IsCommitted(5))
	require.Equal(t, []timestamp.Timestamp{3}, c.CommittedTimestamps)
}

func TestEquals(t *testing.T) {
	a := From(3)
	b := From(3)
	require.True(t, a.Equals(b))

	a.AddCommitted(5)
	require.False(t, a.Equals(b))
	b.AddCommitted(5)
	require.True(t, a.Equals(b))

	require.False(t, a.Equals(From(4)))
}
