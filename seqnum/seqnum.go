// Package seqnum implements RTPS sequence numbers and the
// SequenceNumberSet submessage element used by ACKNACK, NACK_FRAG and GAP.
package seqnum

import "golang.org/x/exp/slices"

// SequenceNumber is a 64-bit monotonically increasing counter. A writer's
// first sample is sequence number 1; Zero and negative values are
// reserved sentinels and never identify a real sample.
type SequenceNumber int64

const (
	// Zero is the reserved "no sequence number" sentinel.
	Zero SequenceNumber = 0
	// Unknown is the reserved "sequence number unknown" sentinel, used
	// where a sample's sequence number has not (yet) been assigned.
	Unknown SequenceNumber = -1
	// First is the sequence number of the first sample a writer produces.
	First SequenceNumber = 1
)

// IsValid reports whether n could identify a real sample (n >= First).
func (n SequenceNumber) IsValid() bool {
	return n >= First
}

// Next returns the sequence number immediately following n.
func (n SequenceNumber) Next() SequenceNumber {
	return n + 1
}

// Set models the wire SequenceNumberSet: a cumulative base plus a bitmap
// of additional (sparse) sequence numbers relative to that base, used by
// ACKNACK (the reader's requested set) and GAP (the skipped range).
type Set struct {
	Base SequenceNumber
	bits map[SequenceNumber]struct{}
}

// NewSet constructs a Set with the given base and an initial collection
// of sequence numbers additionally present in the set.
func NewSet(base SequenceNumber, extra ...SequenceNumber) Set {
	s := Set{Base: base}
	for _, n := range extra {
		s.Add(n)
	}
	return s
}

// Add inserts n into the set.
func (s *Set) Add(n SequenceNumber) {
	if s.bits == nil {
		s.bits = make(map[SequenceNumber]struct{})
	}
	s.bits[n] = struct{}{}
}

// Contains reports whether n is a member of the set.
func (s Set) Contains(n SequenceNumber) bool {
	_, ok := s.bits[n]
	return ok
}

// Members returns the set's members in ascending order.
func (s Set) Members() []SequenceNumber {
	out := make([]SequenceNumber, 0, len(s.bits))
	for n := range s.bits {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
