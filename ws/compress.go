package ws

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// ErrCompression wraps a deflate/inflate failure (spec.md section 7,
// kind CompressionError).
type ErrCompression struct {
	Wrapped error
}

func (e *ErrCompression) Error() string { return "websocket: compression error: " + e.Wrapped.Error() }
func (e *ErrCompression) Unwrap() error { return e.Wrapped }

// deflateMessage compresses payload for permessage-deflate (spec.md
// section 4.B "Outbound compression"). Each call is an independent
// compression operation — no dictionary or window is shared across
// messages, per section 5's concurrency & resource model.
//
// Empty payloads are never compressed; callers must check len(payload)
// before calling this (the Open Question in SPEC_FULL.md locks that
// behavior in).
func deflateMessage(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, &ErrCompression{Wrapped: err}
	}
	if _, err := w.Write(payload); err != nil {
		return nil, &ErrCompression{Wrapped: err}
	}
	if err := w.Close(); err != nil {
		return nil, &ErrCompression{Wrapped: err}
	}

	out := buf.Bytes()
	if len(out) >= 4 && bytes.Equal(out[len(out)-4:], compressionTail[:]) {
		out = out[:len(out)-4]
	}
	return out, nil
}

// inflateMessage reverses deflateMessage: it appends the literal
// 0x00 0x00 0xFF 0xFF tail (the contextual rule this whole scheme hinges
// on) and inflates using raw DEFLATE (spec.md section 4.A step 7).
func inflateMessage(payload []byte) ([]byte, error) {
	withTail := make([]byte, 0, len(payload)+4)
	withTail = append(withTail, payload...)
	withTail = append(withTail, compressionTail[:]...)

	r := flate.NewReader(bytes.NewReader(withTail))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &ErrCompression{Wrapped: err}
	}
	return out, nil
}
