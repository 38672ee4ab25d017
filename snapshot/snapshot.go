// Package snapshot holds the immutable MvccSnapshot value type: given two
// watermarks and a small sorted list of exception timestamps, it answers
// "is timestamp T committed?" for readers deriving point-in-time views.
package snapshot

import (
	"strconv"
	"strings"

	"github.com/mycastiel/kudu/timestamp"
)

// Snapshot is an immutable point-in-time view of which timestamps are
// committed. Use New for the empty snapshot; the zero value has both
// watermarks at timestamp.Min rather than timestamp.Initial.
//
// Summary rule: a timestamp T is committed iff T < AllCommittedBefore, or
// T is in CommittedTimestamps.
type Snapshot struct {
	// AllCommittedBefore: every timestamp strictly less than this is
	// committed.
	AllCommittedBefore timestamp.Timestamp
	// CommittedTimestamps: sparse, exception list of committed timestamps
	// >= AllCommittedBefore. Kept sorted by insertion discipline (callers
	// only ever append increasing-ish values via AddCommitted); duplicates
	// are rejected by AddCommitted.
	CommittedTimestamps []timestamp.Timestamp
	// NoneCommittedAtOrAfter: no committed timestamp is >= this value.
	// Equivalent to max(CommittedTimestamps)+1, cached to avoid scanning.
	NoneCommittedAtOrAfter timestamp.Timestamp
}

// New returns the empty snapshot: both watermarks at timestamp.Initial, no
// exceptions. Commits nothing.
func New() Snapshot {
	return Snapshot{
		AllCommittedBefore:     timestamp.Initial,
		NoneCommittedAtOrAfter: timestamp.Initial,
	}
}

// From returns a clean, point-in-time snapshot at ts: every timestamp
// strictly less than ts is considered committed, everything else is not.
func From(ts timestamp.Timestamp) Snapshot {
	return Snapshot{
		AllCommittedBefore:     ts,
		NoneCommittedAtOrAfter: ts,
	}
}

// AllOps returns a snapshot that considers every timestamp committed.
// Mostly useful in tests.
func AllOps() Snapshot {
	return From(timestamp.Max)
}

// NoOps returns a snapshot that considers no timestamp committed.
func NoOps() Snapshot {
	return From(timestamp.Min)
}

// IsCommitted reports whether ts should be considered committed in s.
func (s Snapshot) IsCommitted(ts timestamp.Timestamp) bool {
	if ts < s.AllCommittedBefore {
		return true
	}
	if ts >= s.NoneCommittedAtOrAfter {
		return false
	}
	return s.isCommittedFallback(ts)
}

func (s Snapshot) isCommittedFallback(ts timestamp.Timestamp) bool {
	for _, t := range s.CommittedTimestamps {
		if t == ts {
			return true
		}
	}
	return false
}

// MayHaveCommittedOpsAtOrAfter reports whether s may have any committed
// timestamps >= ts. Used to avoid scanning REDO deltas that can't possibly
// contain anything relevant to this snapshot.
func (s Snapshot) MayHaveCommittedOpsAtOrAfter(ts timestamp.Timestamp) bool {
	return ts < s.NoneCommittedAtOrAfter
}

// MayHaveUncommittedOpsAtOrBefore reports whether s may have any
// uncommitted timestamps <= ts. Used to avoid scanning UNDO deltas that are
// already known-committed in the context of this snapshot.
//
// The boundary case is deliberate: if the only remaining in-flight
// timestamp equals AllCommittedBefore exactly, committing it alone cannot
// move the floor without more information, so we only report "possibly
// uncommitted" in that exact case rather than always at the boundary.
func (s Snapshot) MayHaveUncommittedOpsAtOrBefore(ts timestamp.Timestamp) bool {
	if ts > s.AllCommittedBefore {
		return true
	}
	return ts == s.AllCommittedBefore && !s.isCommittedFallback(ts)
}

// IsClean reports whether s is determined purely by AllCommittedBefore,
// i.e. carries no exception timestamps.
func (s Snapshot) IsClean() bool {
	return len(s.CommittedTimestamps) == 0
}

// AddCommitted marks ts committed in s, growing NoneCommittedAtOrAfter if
// needed. A no-op if ts is already committed. Callers are expected to hold
// whatever lock protects the Manager's snapshot of record; Snapshot itself
// has no internal synchronization.
func (s *Snapshot) AddCommitted(ts timestamp.Timestamp) {
	if s.IsCommitted(ts) {
		return
	}
	s.CommittedTimestamps = append(s.CommittedTimestamps, ts)
	if s.NoneCommittedAtOrAfter <= ts {
		s.NoneCommittedAtOrAfter = ts.Next()
	}
}

// AddCommittedTimestamps is AddCommitted applied to each element of ts, in
// order. Used by the flush path (an external collaborator) to declare a
// set of commits that may not itself be a consistent MVCC snapshot.
func (s *Snapshot) AddCommittedTimestamps(ts []timestamp.Timestamp) {
	for _, t := range ts {
		s.AddCommitted(t)
	}
}

// AdvanceFloor raises AllCommittedBefore to w, dropping every exception
// timestamp now covered by the dense prefix. If the exception list becomes
// empty, NoneCommittedAtOrAfter is pulled forward to w as well so it never
// trails behind the new floor. A no-op (idempotent) if w <= AllCommittedBefore.
func (s *Snapshot) AdvanceFloor(w timestamp.Timestamp) {
	if w <= s.AllCommittedBefore {
		return
	}
	s.AllCommittedBefore = w

	kept := s.CommittedTimestamps[:0]
	for _, t := range s.CommittedTimestamps {
		if t >= w {
			kept = append(kept, t)
		}
	}
	s.CommittedTimestamps = kept

	if len(s.CommittedTimestamps) == 0 {
		s.NoneCommittedAtOrAfter = w
	}
}

// Clone returns a deep copy of s, independent of any later mutation of the
// original. The Manager uses it to hand out its snapshot of record.
func (s Snapshot) Clone() Snapshot {
	out := s
	if len(s.CommittedTimestamps) > 0 {
		out.CommittedTimestamps = append([]timestamp.Timestamp(nil), s.CommittedTimestamps...)
	}
	return out
}

// Equals reports whether s and other represent the same set of committed
// timestamps.
func (s Snapshot) Equals(other Snapshot) bool {
	if s.AllCommittedBefore != other.AllCommittedBefore {
		return false
	}
	if s.NoneCommittedAtOrAfter != other.NoneCommittedAtOrAfter {
		return false
	}
	if len(s.CommittedTimestamps) != len(other.CommittedTimestamps) {
		return false
	}
	for i, t := range s.CommittedTimestamps {
		if other.CommittedTimestamps[i] != t {
			return false
		}
	}
	return true
}

// String renders the canonical debug form:
//
//	MvccSnapshot[committed={T|T < <w>}]
//
// or, with exceptions present:
//
//	MvccSnapshot[committed={T|T < <w> or (T in {t1,t2,...})}]
func (s Snapshot) String() string {
	var b strings.Builder
	b.WriteString("MvccSnapshot[committed={T|T < ")
	b.WriteString(s.AllCommittedBefore.String())
	if len(s.CommittedTimestamps) == 0 {
		b.WriteString("}]")
		return b.String()
	}
	b.WriteString(" or (T in {")
	for i, t := range s.CommittedTimestamps {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(t), 10))
	}
	b.WriteString("})}]")
	return b.String()
}
