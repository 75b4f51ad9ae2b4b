// Package wire implements RTPS 2.4 message framing: the datagram
// header plus the submessages a stateful writer emits (INFO_DST,
// INFO_TS, DATA, DATA_FRAG, GAP, HEARTBEAT) and parses on the inbound
// path (ACKNACK, NACK_FRAG). Byte layout follows the OMG RTPS
// specification bit-for-bit, per-submessage endianness selected by the
// least-significant flag bit.
package wire

import (
	"encoding/binary"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/seqnum"
)

// Submessage kind ids, per the OMG RTPS 2.x specification.
const (
	KindAckNack         = 0x06
	KindHeartbeat       = 0x07
	KindGap             = 0x08
	KindInfoTimestamp   = 0x09
	KindInfoDestination = 0x0e
	KindNackFrag        = 0x12
	KindData            = 0x15
	KindDataFrag        = 0x16
)

const protocolMagic = "RTPS"
const protocolVersionMajor, protocolVersionMinor = 2, 4

// VendorID identifies this implementation in every outbound header.
// The OMG vendor id registry has no entry for this engine; 0x0000 is
// the "vendor unspecified" value reserved for exactly this case.
var VendorID = [2]byte{0x00, 0x00}

// flagEndianness is bit 0 of every submessage's flags byte: 1 selects
// little-endian for that submessage's body, 0 selects big-endian.
const flagEndianness = 0x01

func byteOrderFor(flags byte) binary.ByteOrder {
	if flags&flagEndianness != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Time is the RTPS wire time: seconds since the epoch plus a
// fractional part in 2^-32 second units.
type Time struct {
	Seconds  int32
	Fraction uint32
}

// TimeInvalid is the RTPS TIME_INVALID sentinel, signalling "no source
// timestamp" on an INFO_TS submessage.
var TimeInvalid = Time{Seconds: -1, Fraction: 0xFFFFFFFF}

func putSequenceNumber(order binary.ByteOrder, dst []byte, n seqnum.SequenceNumber) {
	order.PutUint32(dst[0:4], uint32(int32(n>>32)))
	order.PutUint32(dst[4:8], uint32(n))
}

func getSequenceNumber(order binary.ByteOrder, buf []byte) seqnum.SequenceNumber {
	high := int32(order.Uint32(buf[0:4]))
	low := order.Uint32(buf[4:8])
	return seqnum.SequenceNumber(int64(high)<<32 | int64(low))
}

// encodeSequenceNumberSet lays out a SequenceNumberSet: an 8-byte
// cumulative base, a u32 bit count, then ceil(numBits/32) 32-bit words,
// each bit set MSB-first (bit i of the set is bit (31 - i%32) of word
// i/32), per the RTPS wire format.
func encodeSequenceNumberSet(order binary.ByteOrder, base seqnum.SequenceNumber, members []seqnum.SequenceNumber) []byte {
	var numBits uint32
	for _, n := range members {
		if d := uint32(n - base); d+1 > numBits {
			numBits = d + 1
		}
	}
	numWords := (numBits + 31) / 32
	buf := make([]byte, 8+4+numWords*4)
	putSequenceNumber(order, buf[0:8], base)
	order.PutUint32(buf[8:12], numBits)
	for _, n := range members {
		bitIndex := uint32(n - base)
		offset := 12 + (bitIndex/32)*4
		val := order.Uint32(buf[offset : offset+4])
		val |= 1 << (31 - bitIndex%32)
		order.PutUint32(buf[offset:offset+4], val)
	}
	return buf
}

func decodeSequenceNumberSet(order binary.ByteOrder, buf []byte) (set seqnum.Set, consumed int, err error) {
	if len(buf) < 12 {
		return seqnum.Set{}, 0, ErrMalformed
	}
	base := getSequenceNumber(order, buf[0:8])
	numBits := order.Uint32(buf[8:12])
	total := 12 + int((numBits+31)/32)*4
	if len(buf) < total {
		return seqnum.Set{}, 0, ErrMalformed
	}
	set = seqnum.NewSet(base)
	for i := uint32(0); i < numBits; i++ {
		offset := 12 + int(i/32)*4
		val := order.Uint32(buf[offset : offset+4])
		if val&(1<<(31-i%32)) != 0 {
			set.Add(base + seqnum.SequenceNumber(i))
		}
	}
	return set, total, nil
}

// Message is an RTPS datagram under construction: the RTPS header
// followed by a sequence of submessages, each framed with its own
// {id, flags, octets_to_next_header} header.
type Message struct {
	buf []byte
}

// NewMessage starts a message with the RTPS header stamped with the
// local participant's prefix.
func NewMessage(prefix guid.GuidPrefix) *Message {
	m := &Message{buf: make([]byte, 0, 256)}
	m.buf = append(m.buf, protocolMagic...)
	m.buf = append(m.buf, byte(protocolVersionMajor), byte(protocolVersionMinor))
	m.buf = append(m.buf, VendorID[:]...)
	m.buf = append(m.buf, prefix[:]...)
	return m
}

// Bytes returns the datagram built so far.
func (m *Message) Bytes() []byte {
	return m.buf
}

func (m *Message) appendSubmessage(id, flags byte, body []byte) {
	order := byteOrderFor(flags)
	var hdr [4]byte
	hdr[0], hdr[1] = id, flags
	order.PutUint16(hdr[2:4], uint16(len(body)))
	m.buf = append(m.buf, hdr[:]...)
	m.buf = append(m.buf, body...)
}

// AppendInfoDestination appends an INFO_DST submessage, changing the
// subsequent effective destination GUID prefix to prefix.
func (m *Message) AppendInfoDestination(prefix guid.GuidPrefix) {
	m.appendSubmessage(KindInfoDestination, flagEndianness, prefix[:])
}

const flagInfoTimestampInvalid = 0x02

// AppendInfoTimestamp appends an INFO_TS submessage carrying t, or, if
// invalid is true, the "no timestamp" form (an empty body with the
// invalidate flag set).
func (m *Message) AppendInfoTimestamp(t Time, invalid bool) {
	flags := byte(flagEndianness)
	if invalid {
		m.appendSubmessage(KindInfoTimestamp, flags|flagInfoTimestampInvalid, nil)
		return
	}
	order := byteOrderFor(flags)
	var body [8]byte
	order.PutUint32(body[0:4], uint32(t.Seconds))
	order.PutUint32(body[4:8], t.Fraction)
	m.appendSubmessage(KindInfoTimestamp, flags, body[:])
}

const (
	flagDataInlineQoS = 0x02
	flagDataPresent   = 0x04
	flagDataKey       = 0x08
)

// DataSubmessage is a DATA submessage's protocol-relevant fields.
type DataSubmessage struct {
	ReaderID          guid.EntityID
	WriterID          guid.EntityID
	WriterSN          seqnum.SequenceNumber
	KeyFlag           bool
	InlineQoS         []byte
	SerializedPayload []byte
}

// octetsToInlineQoS is constant here: readerId(4)+writerId(4)+writerSN(8).
const octetsToInlineQoSData = 16

// AppendData appends a DATA submessage.
func (m *Message) AppendData(d DataSubmessage) {
	flags := byte(flagEndianness)
	if len(d.InlineQoS) > 0 {
		flags |= flagDataInlineQoS
	}
	if d.KeyFlag {
		flags |= flagDataKey
	} else {
		flags |= flagDataPresent
	}
	order := byteOrderFor(flags)

	body := make([]byte, 20, 20+len(d.InlineQoS)+len(d.SerializedPayload))
	order.PutUint16(body[0:2], 0)
	order.PutUint16(body[2:4], octetsToInlineQoSData)
	copy(body[4:8], d.ReaderID[:])
	copy(body[8:12], d.WriterID[:])
	putSequenceNumber(order, body[12:20], d.WriterSN)
	body = append(body, d.InlineQoS...)
	body = append(body, d.SerializedPayload...)

	m.appendSubmessage(KindData, flags, body)
}

const (
	flagDataFragInlineQoS = 0x02
	flagDataFragKey       = 0x04
)

// DataFragSubmessage is a DATA_FRAG submessage's protocol-relevant
// fields: one fragment of a larger serialized sample.
type DataFragSubmessage struct {
	ReaderID              guid.EntityID
	WriterID              guid.EntityID
	WriterSN              seqnum.SequenceNumber
	FragmentStartingNum   uint32
	FragmentsInSubmessage uint16
	FragmentSize          uint16
	DataSize              uint32
	KeyFlag               bool
	InlineQoS             []byte
	SerializedPayload     []byte
}

// readerId(4)+writerId(4)+writerSN(8)+fragmentStartingNum(4)+
// fragmentsInSubmessage(2)+fragmentSize(2)+sampleSize(4).
const octetsToInlineQoSDataFrag = 28
const dataFragFixedLen = 2 + 2 + 4 + 4 + 8 + 4 + 2 + 2 + 4

// AppendDataFrag appends a DATA_FRAG submessage.
func (m *Message) AppendDataFrag(d DataFragSubmessage) {
	flags := byte(flagEndianness)
	if len(d.InlineQoS) > 0 {
		flags |= flagDataFragInlineQoS
	}
	if d.KeyFlag {
		flags |= flagDataFragKey
	}
	order := byteOrderFor(flags)

	body := make([]byte, dataFragFixedLen, dataFragFixedLen+len(d.InlineQoS)+len(d.SerializedPayload))
	order.PutUint16(body[0:2], 0)
	order.PutUint16(body[2:4], octetsToInlineQoSDataFrag)
	copy(body[4:8], d.ReaderID[:])
	copy(body[8:12], d.WriterID[:])
	putSequenceNumber(order, body[12:20], d.WriterSN)
	order.PutUint32(body[20:24], d.FragmentStartingNum)
	order.PutUint16(body[24:26], d.FragmentsInSubmessage)
	order.PutUint16(body[26:28], d.FragmentSize)
	order.PutUint32(body[28:32], d.DataSize)
	body = append(body, d.InlineQoS...)
	body = append(body, d.SerializedPayload...)

	m.appendSubmessage(KindDataFrag, flags, body)
}

// GapSubmessage is a GAP submessage. The reader should treat as skipped
// every sequence number from GapStart up to GapList.Base-1, plus every
// member of GapList (so GapStart=s with GapList.Base=s+1 skips just s).
type GapSubmessage struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	GapStart seqnum.SequenceNumber
	GapList  seqnum.Set
}

// AppendGap appends a GAP submessage.
func (m *Message) AppendGap(g GapSubmessage) {
	flags := byte(flagEndianness)
	order := byteOrderFor(flags)

	setBytes := encodeSequenceNumberSet(order, g.GapList.Base, g.GapList.Members())
	body := make([]byte, 0, 16+len(setBytes))
	body = append(body, g.ReaderID[:]...)
	body = append(body, g.WriterID[:]...)
	var gs [8]byte
	putSequenceNumber(order, gs[:], g.GapStart)
	body = append(body, gs[:]...)
	body = append(body, setBytes...)

	m.appendSubmessage(KindGap, flags, body)
}

const flagHeartbeatFinal = 0x02

// HeartbeatSubmessage is a HEARTBEAT submessage: the writer's current
// [FirstSN, LastSN] range, a monotone Count, and whether a response is
// required (Final=false) or not (Final=true, the idle/liveliness form).
type HeartbeatSubmessage struct {
	ReaderID guid.EntityID
	WriterID guid.EntityID
	FirstSN  seqnum.SequenceNumber
	LastSN   seqnum.SequenceNumber
	Count    int32
	Final    bool
}

// AppendHeartbeat appends a HEARTBEAT submessage.
func (m *Message) AppendHeartbeat(h HeartbeatSubmessage) {
	flags := byte(flagEndianness)
	if h.Final {
		flags |= flagHeartbeatFinal
	}
	order := byteOrderFor(flags)

	body := make([]byte, 28)
	copy(body[0:4], h.ReaderID[:])
	copy(body[4:8], h.WriterID[:])
	putSequenceNumber(order, body[8:16], h.FirstSN)
	putSequenceNumber(order, body[16:24], h.LastSN)
	order.PutUint32(body[24:28], uint32(h.Count))

	m.appendSubmessage(KindHeartbeat, flags, body)
}
