package rtpswriter

import (
	"context"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/qos"
	"github.com/nimbus-dds/writer/readerproxy"
	"github.com/nimbus-dds/writer/seqnum"
	"github.com/nimbus-dds/writer/wire"
)

// ProcessMessage parses an inbound RTPS datagram and dispatches every
// ACKNACK (§4.4.4) and NACK_FRAG (§4.4.5) submessage it carries.
// Submessage kinds this writer does not act on are ignored by wire.Parse
// itself. A malformed datagram is dropped whole, without mutating any
// reader proxy.
func (w *StatefulWriter) ProcessMessage(ctx context.Context, datagram []byte, t Transport, clock Clock) error {
	parsed, err := wire.Parse(datagram)
	if err != nil {
		w.logger.Debug().Err(ErrMalformedMessage).Msg("dropping malformed datagram")
		return ErrMalformedMessage
	}
	for _, an := range parsed.AckNacks {
		w.onAcknackSubmessageReceived(ctx, an, parsed.SourceGUIDPrefix, t, clock)
	}
	for _, nf := range parsed.NackFrags {
		w.onNackFragSubmessageReceived(ctx, nf, parsed.SourceGUIDPrefix, t, clock)
	}
	return nil
}

// onAcknackSubmessageReceived is §4.4.4. An ACKNACK addressed to a
// different writer id, or naming an unmatched reader, a non-reliable
// reader, or a stale count, is dropped with a debug log. Otherwise the reader's acked/requested state is updated
// and a fresh reliable send pass is triggered immediately, so a NACK is
// answered without waiting for the next periodic pass.
func (w *StatefulWriter) onAcknackSubmessageReceived(ctx context.Context, an wire.AckNack, sourcePrefix guid.GuidPrefix, t Transport, clock Clock) {
	if an.WriterID != w.guid.EntityID {
		w.logger.Debug().Err(ErrUnknownWriterID).Msg("dropping acknack for foreign writer id")
		return
	}

	w.mu.Lock()
	rp, ok := w.readers[guid.New(sourcePrefix, an.ReaderID)]
	if !ok {
		w.mu.Unlock()
		w.logger.Debug().Err(ErrUnknownReaderID).Msg("dropping acknack for unmatched reader")
		return
	}
	if !w.readerAcceptsCount(rp, an.Count, rp.LastReceivedAcknackCount) {
		w.mu.Unlock()
		return
	}
	rp.AckedChangesSet(an.ReaderSNState.Base - 1)
	rp.RequestedChangesSet(an.ReaderSNState.Members())
	rp.LastReceivedAcknackCount = an.Count
	w.mu.Unlock()

	w.sendReliable(ctx, t, rp, clock)
}

// onNackFragSubmessageReceived is §4.4.5. Unlike ACKNACK, a NACK_FRAG is
// matched purely by the (source prefix, reader id) pair — the writer id
// is not checked, matching the original implementation.
func (w *StatefulWriter) onNackFragSubmessageReceived(ctx context.Context, nf wire.NackFrag, sourcePrefix guid.GuidPrefix, t Transport, clock Clock) {
	w.mu.Lock()
	rp, ok := w.readers[guid.New(sourcePrefix, nf.ReaderID)]
	if !ok {
		w.mu.Unlock()
		w.logger.Debug().Err(ErrUnknownReaderID).Msg("dropping nack_frag for unmatched reader")
		return
	}
	if !w.readerAcceptsCount(rp, nf.Count, rp.LastReceivedNackFragCount) {
		w.mu.Unlock()
		return
	}
	rp.RequestedChangesSet([]seqnum.SequenceNumber{nf.WriterSN})
	rp.LastReceivedNackFragCount = nf.Count
	w.mu.Unlock()

	w.sendReliable(ctx, t, rp, clock)
}

// readerAcceptsCount reports whether rp is reliable and count is strictly
// greater than lastReceived, the shared ACKNACK/NACK_FRAG admission
// check. Must be called with w.mu held.
func (w *StatefulWriter) readerAcceptsCount(rp *readerproxy.ReaderProxy, count, lastReceived int32) bool {
	if rp.Reliability != qos.Reliable {
		w.logger.Debug().Msg("dropping submessage for best-effort reader")
		return false
	}
	if count <= lastReceived {
		w.logger.Debug().Err(ErrStaleCount).Msg("dropping stale acknack/nack_frag")
		return false
	}
	return true
}
