package rtpswriter

import "errors"

// Error taxonomy for the stateful writer's inbound path and back-pressure
// policy (spec §7). qos.Incompatible, returned by Match, is a distinct
// typed error carrying the offending policy id.
var (
	// ErrMalformedMessage is returned by ProcessMessage when a datagram
	// fails to parse as RTPS or a submessage declares a bad length. The
	// datagram is dropped without mutating any state.
	ErrMalformedMessage = errors.New("rtpswriter: malformed message")
	// ErrUnknownWriterID is logged at debug level when an inbound ACKNACK
	// targets an entity id other than this writer's; ProcessMessage drops
	// the submessage and does not return this error.
	ErrUnknownWriterID = errors.New("rtpswriter: unknown writer id")
	// ErrUnknownReaderID is logged at debug level when an inbound
	// submessage names a reader this writer has no matched proxy for;
	// ProcessMessage drops the submessage and does not return this error.
	ErrUnknownReaderID = errors.New("rtpswriter: unknown reader id")
	// ErrStaleCount is logged at debug level when an ACKNACK/NACK_FRAG
	// count does not exceed the last one processed for that reader;
	// ProcessMessage drops the submessage and does not return this error.
	ErrStaleCount = errors.New("rtpswriter: stale acknack/nack_frag count")
	// ErrResourceExhausted mirrors changeset.ErrResourceExhausted at the
	// writer boundary, returned by AddChange.
	ErrResourceExhausted = errors.New("rtpswriter: resource limits exceeded")
)
