package ws

import "errors"

// Decoder buffers a growing byte sequence arriving from a transport and
// yields complete frames as they arrive, preserving any partial trailing
// frame across calls (spec.md section 4.D).
//
// Per the redesign note in spec.md section 9, the "push leftover bytes
// back to the front of the FIFO" behavior is realized as an index into
// a single growable buffer rather than an actual list-prepend, which
// would be O(n) in Go.
type Decoder struct {
	buf               []byte
	off               int
	perMessageDeflate bool
}

// NewDecoder creates an incremental decoder. perMessageDeflate mirrors
// the negotiated state of the owning connection.
func NewDecoder(perMessageDeflate bool) *Decoder {
	return &Decoder{perMessageDeflate: perMessageDeflate}
}

// Feed appends newly-arrived transport bytes to the buffer.
func (d *Decoder) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	d.buf = append(d.buf, chunk...)
}

// Decode attempts to parse one complete frame from the buffered bytes.
// Returning ErrNeedMore means the buffer does not yet hold a complete
// frame; no data is lost and Decode may be called again after Feed.
// rsv1Active indicates whether the in-progress message (if any) started
// as a compressed message, so a CONTINUATION frame is marked
// frame.Compressed too; decompression itself happens once the caller
// has reassembled the full message (spec.md section 4.B).
func (d *Decoder) Decode(rsv1Active bool) (*Frame, error) {
	frame, consumed, err := DecodeFrame(d.buf[d.off:], d.perMessageDeflate, rsv1Active)
	if errors.Is(err, ErrNeedMore) {
		return nil, ErrNeedMore
	}

	if consumed > 0 {
		d.off += consumed
		d.compact()
	}

	return frame, err
}

// Pending reports the number of unconsumed, buffered bytes.
func (d *Decoder) Pending() int {
	return len(d.buf) - d.off
}

// compact reclaims consumed space so the buffer does not grow without
// bound across a long-lived connection.
func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
		return
	}
	if d.off > 4096 || d.off*2 > cap(d.buf) {
		remaining := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:remaining]
		d.off = 0
	}
}
