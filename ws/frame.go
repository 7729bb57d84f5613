package ws

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// ErrNeedMore is returned by DecodeFrame when buf does not yet contain a
// complete frame. Callers (the incremental decoder, spec.md section 4.D)
// should keep buf buffered and retry once more bytes arrive.
var ErrNeedMore = errors.New("websocket: need more data")

// EncodeFrame builds the wire bytes for a single WebSocket frame
// (spec.md section 4.A "Encode"). If mask is true, a fresh
// cryptographically random masking key is generated and the payload is
// masked; compressed controls whether RSV1 is set, and is ignored for
// continuation frames (RSV1 MUST NOT be set on continuation frames).
func EncodeFrame(payload []byte, opcode byte, mask bool, fin bool, compressed bool) ([]byte, error) {
	b0 := opcode & opcodeMask
	if fin {
		b0 |= finBit
	}
	if compressed && opcode != OpcodeContinuation {
		b0 |= rsv1Bit
	}

	length := len(payload)
	header := make([]byte, 0, MaxFrameHeaderSize)
	header = append(header, b0)

	var b1 byte
	if mask {
		b1 |= maskBit
	}

	switch {
	case length < 126:
		header = append(header, b1|byte(length))
	case length < 1<<16:
		header = append(header, b1|126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(length))
		header = append(header, ext[:]...)
	default:
		header = append(header, b1|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(length))
		header = append(header, ext[:]...)
	}

	out := header
	if mask {
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			return nil, err
		}
		out = append(out, key[:]...)
		masked := make([]byte, length)
		copy(masked, payload)
		maskBytes(masked, key)
		out = append(out, masked...)
	} else {
		out = append(out, payload...)
	}

	return out, nil
}

// DecodeFrame parses a single frame from the front of buf (spec.md
// section 4.A "Decode"). perMessageDeflate and rsv1Active (carried by
// the caller across a fragmented message's continuation frames)
// determine whether frame.Compressed is set; the payload itself is
// returned raw. Compression is a per-message concept (spec.md section
// 4.B): a fragment's compressed bytes are not independently inflatable,
// so inflate must run once against the reassembled message, not here.
//
// On success it returns the decoded frame and the number of bytes of
// buf it consumed; the caller is responsible for slicing off the
// consumed prefix. On incomplete input it returns ErrNeedMore and the
// caller must retain all of buf and retry once more bytes are fed.
func DecodeFrame(buf []byte, perMessageDeflate bool, rsv1Active bool) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrNeedMore
	}

	b0 := buf[0]
	b1 := buf[1]

	frame := &Frame{
		Fin:    b0&finBit != 0,
		RSV1:   b0&rsv1Bit != 0,
		Opcode: b0 & opcodeMask,
		Masked: b1&maskBit != 0,
	}

	if frame.RSV1 && frame.Opcode == OpcodeContinuation {
		return nil, 0, newProtocolError(CloseProtocolError, "RSV1 must not be set for continuation frames", ErrRSV1Continuation)
	}
	if b0&(rsv2Bit|rsv3Bit) != 0 {
		return nil, 0, newProtocolError(CloseProtocolError, "reserved bits must be 0", ErrReservedBitsSet)
	}
	if frame.Opcode > OpcodePong || (frame.Opcode > OpcodeBinary && frame.Opcode < OpcodeClose) {
		return nil, 0, newProtocolError(CloseProtocolError, "invalid opcode", ErrInvalidOpcode)
	}

	pos := 2
	length := uint64(b1 & lengthMask)

	switch length {
	case 126:
		if len(buf) < pos+2 {
			return nil, 0, ErrNeedMore
		}
		length = uint64(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
	case 127:
		if len(buf) < pos+8 {
			return nil, 0, ErrNeedMore
		}
		length = binary.BigEndian.Uint64(buf[pos : pos+8])
		pos += 8
		if length&(1<<63) != 0 {
			return nil, 0, newProtocolError(CloseMessageTooBig, "frame too large", ErrFrameTooLarge)
		}
	}

	if frame.IsControl() {
		if !frame.Fin {
			return nil, 0, newProtocolError(CloseProtocolError, "control frame cannot be fragmented", ErrFragmentedControl)
		}
		if length > MaxControlFramePayload {
			return nil, 0, newProtocolError(CloseProtocolError, "control frame payload too large", ErrInvalidControlFrame)
		}
	}

	if frame.Masked {
		if len(buf) < pos+4 {
			return nil, 0, ErrNeedMore
		}
		copy(frame.MaskKey[:], buf[pos:pos+4])
		pos += 4
	}

	if uint64(len(buf)-pos) < length {
		return nil, 0, ErrNeedMore
	}

	payload := make([]byte, length)
	copy(payload, buf[pos:pos+int(length)])
	pos += int(length)

	if frame.Masked {
		maskBytes(payload, frame.MaskKey)
	}

	startsCompressed := frame.RSV1 || (frame.Opcode == OpcodeContinuation && rsv1Active)
	frame.Compressed = perMessageDeflate && startsCompressed

	frame.Payload = payload
	return frame, pos, nil
}

// maskBytes applies RFC 6455 5.3 XOR masking to data in place, 8 bytes
// at a time where possible.
func maskBytes(data []byte, key [4]byte) {
	if len(data) >= 8 {
		mask64 := uint64(key[0]) |
			uint64(key[1])<<8 |
			uint64(key[2])<<16 |
			uint64(key[3])<<24 |
			uint64(key[0])<<32 |
			uint64(key[1])<<40 |
			uint64(key[2])<<48 |
			uint64(key[3])<<56

		i := 0
		for ; i+8 <= len(data); i += 8 {
			val := binary.LittleEndian.Uint64(data[i:i+8]) ^ mask64
			binary.LittleEndian.PutUint64(data[i:i+8], val)
		}
		for ; i < len(data); i++ {
			data[i] ^= key[i%4]
		}
		return
	}
	for i := range data {
		data[i] ^= key[i%4]
	}
}
