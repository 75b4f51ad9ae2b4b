// Package change implements CacheChange, the immutable record of one
// published data sample held in a writer's history.
package change

import (
	"errors"
	"time"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/seqnum"
)

// ChangeKind classifies a CacheChange. It is a closed set: New rejects
// any other value, resolving the spec's open question about unimplemented
// ChangeKind branches by refusing them at construction time rather than
// failing later during fragmentation.
type ChangeKind uint8

const (
	// Alive is a normal data sample.
	Alive ChangeKind = iota + 1
	// NotAliveDisposed marks an instance as disposed.
	NotAliveDisposed
	// NotAliveUnregistered marks an instance as unregistered.
	NotAliveUnregistered
)

func (k ChangeKind) String() string {
	switch k {
	case Alive:
		return "Alive"
	case NotAliveDisposed:
		return "NotAliveDisposed"
	case NotAliveUnregistered:
		return "NotAliveUnregistered"
	default:
		return "Unknown"
	}
}

// IsKey reports whether samples of this kind carry only the instance key
// (true for disposal/unregistration), matching the DATA_FRAG key_flag.
func (k ChangeKind) IsKey() bool {
	return k == NotAliveDisposed || k == NotAliveUnregistered
}

// ErrInvalidKind is returned by New when kind is not one of the three
// defined ChangeKind values.
var ErrInvalidKind = errors.New("change: invalid change kind")

// InstanceHandle identifies the keyed instance a change belongs to.
type InstanceHandle [16]byte

// CacheChange is one immutable published sample. Once constructed, its
// sequence number and payload never change; construct a new value to
// represent a different sample.
type CacheChange struct {
	writerGUID       guid.GUID
	sequenceNumber   seqnum.SequenceNumber
	kind             ChangeKind
	sourceTimestamp  time.Time
	hasTimestamp     bool
	instanceHandle   InstanceHandle
	data             []byte
	representationID int16
}

// New constructs a CacheChange, copying data so the caller's buffer may
// be reused. It returns ErrInvalidKind for any kind outside the defined
// set, and requires a valid (>=1) sequence number.
func New(
	writerGUID guid.GUID,
	sequenceNumber seqnum.SequenceNumber,
	kind ChangeKind,
	instanceHandle InstanceHandle,
	data []byte,
	representationID int16,
) (CacheChange, error) {
	if kind != Alive && kind != NotAliveDisposed && kind != NotAliveUnregistered {
		return CacheChange{}, ErrInvalidKind
	}
	if !sequenceNumber.IsValid() {
		return CacheChange{}, errors.New("change: sequence number must be >= 1")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return CacheChange{
		writerGUID:       writerGUID,
		sequenceNumber:   sequenceNumber,
		kind:             kind,
		instanceHandle:   instanceHandle,
		data:             buf,
		representationID: representationID,
	}, nil
}

// WithSourceTimestamp returns a copy of c stamped with the given source
// timestamp.
func (c CacheChange) WithSourceTimestamp(ts time.Time) CacheChange {
	c.sourceTimestamp = ts
	c.hasTimestamp = true
	return c
}

func (c CacheChange) WriterGUID() guid.GUID                 { return c.writerGUID }
func (c CacheChange) SequenceNumber() seqnum.SequenceNumber { return c.sequenceNumber }
func (c CacheChange) Kind() ChangeKind                      { return c.kind }
func (c CacheChange) InstanceHandle() InstanceHandle        { return c.instanceHandle }
func (c CacheChange) RepresentationID() int16               { return c.representationID }
func (c CacheChange) SourceTimestamp() (time.Time, bool)    { return c.sourceTimestamp, c.hasTimestamp }

// Data returns a copy of the serialized payload, so callers cannot
// mutate the change's stored bytes.
func (c CacheChange) Data() []byte {
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// Len returns the serialized payload length, without copying.
func (c CacheChange) Len() int {
	return len(c.data)
}
