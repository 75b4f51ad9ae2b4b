package wire

import (
	"encoding/binary"
	"errors"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/seqnum"
)

// ErrMalformed is returned by Parse when a datagram fails to parse as
// RTPS or a submessage declares a length that does not fit the
// remaining buffer.
var ErrMalformed = errors.New("wire: malformed message")

const headerLen = 4 + 2 + 2 + 12 // magic + version + vendor id + guid prefix

// AckNack is a decoded ACKNACK submessage.
type AckNack struct {
	ReaderID      guid.EntityID
	WriterID      guid.EntityID
	ReaderSNState seqnum.Set
	Count         int32
}

// NackFrag is a decoded NACK_FRAG submessage, reduced to the fields
// the stateful writer's inbound dispatch consults (§4.4.5 only needs
// the writer sequence number and the duplicate-suppression count, not
// fragment-level detail).
type NackFrag struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	WriterSN seqnum.SequenceNumber
	Count    int32
}

// Parsed is the result of parsing one inbound RTPS datagram.
// Submessage kinds a stateful writer does not act on (DATA, HEARTBEAT,
// GAP, INFO_*, ...) are skipped, per spec: "other submessages are
// ignored at this layer".
type Parsed struct {
	SourceGUIDPrefix guid.GuidPrefix
	AckNacks         []AckNack
	NackFrags        []NackFrag
}

// Parse decodes an inbound RTPS datagram's header and every
// ACKNACK/NACK_FRAG submessage it contains.
func Parse(datagram []byte) (Parsed, error) {
	if len(datagram) < headerLen || string(datagram[0:4]) != protocolMagic {
		return Parsed{}, ErrMalformed
	}
	var out Parsed
	copy(out.SourceGUIDPrefix[:], datagram[8:20])

	buf := datagram[headerLen:]
	for len(buf) > 0 {
		if len(buf) < 4 {
			return Parsed{}, ErrMalformed
		}
		id, flags := buf[0], buf[1]
		order := byteOrderFor(flags)
		octets := int(order.Uint16(buf[2:4]))
		if octets < 0 || len(buf) < 4+octets {
			return Parsed{}, ErrMalformed
		}
		body := buf[4 : 4+octets]

		switch id {
		case KindAckNack:
			an, err := parseAckNack(order, body)
			if err != nil {
				return Parsed{}, err
			}
			out.AckNacks = append(out.AckNacks, an)
		case KindNackFrag:
			nf, err := parseNackFrag(order, body)
			if err != nil {
				return Parsed{}, err
			}
			out.NackFrags = append(out.NackFrags, nf)
		}

		buf = buf[4+octets:]
	}
	return out, nil
}

func parseAckNack(order binary.ByteOrder, body []byte) (AckNack, error) {
	if len(body) < 8+12 {
		return AckNack{}, ErrMalformed
	}
	var an AckNack
	copy(an.ReaderID[:], body[0:4])
	copy(an.WriterID[:], body[4:8])
	set, n, err := decodeSequenceNumberSet(order, body[8:])
	if err != nil {
		return AckNack{}, err
	}
	an.ReaderSNState = set
	rest := body[8+n:]
	if len(rest) < 4 {
		return AckNack{}, ErrMalformed
	}
	an.Count = int32(order.Uint32(rest[0:4]))
	return an, nil
}

func parseNackFrag(order binary.ByteOrder, body []byte) (NackFrag, error) {
	// readerId(4) + writerId(4) + writerSN(8) + FragmentNumberSet(base
	// u32 + numBits u32 + bitmap) + count(4).
	if len(body) < 4+4+8+8 {
		return NackFrag{}, ErrMalformed
	}
	var nf NackFrag
	copy(nf.ReaderID[:], body[0:4])
	copy(nf.WriterID[:], body[4:8])
	nf.WriterSN = getSequenceNumber(order, body[8:16])

	rest := body[16:]
	numBits := order.Uint32(rest[4:8])
	setLen := 8 + int((numBits+31)/32)*4
	if len(rest) < setLen+4 {
		return NackFrag{}, ErrMalformed
	}
	nf.Count = int32(order.Uint32(rest[setLen : setLen+4]))
	return nf, nil
}
