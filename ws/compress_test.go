package ws

import (
	"bytes"
	"testing"
)

func TestDeflateInflateRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"short text", []byte("hello world")},
		{"repetitive", bytes.Repeat([]byte("/"), 3*1024*1024)},
		{"binary", []byte{0x00, 0xFF, 0x10, 0x20, 0x00, 0x00, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := deflateMessage(tt.payload)
			if err != nil {
				t.Fatalf("deflateMessage: %v", err)
			}
			// The trailing empty-block marker must have been stripped.
			if len(compressed) >= 4 && bytes.Equal(compressed[len(compressed)-4:], compressionTail[:]) {
				t.Error("deflateMessage left the compression tail attached")
			}

			got, err := inflateMessage(compressed)
			if err != nil {
				t.Fatalf("inflateMessage: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestInflateMessageInvalidData(t *testing.T) {
	_, err := inflateMessage([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	if err == nil {
		t.Fatal("inflateMessage: want error for garbage input, got nil")
	}
	var cerr *ErrCompression
	if ce, ok := err.(*ErrCompression); ok {
		cerr = ce
	}
	if cerr == nil {
		t.Fatalf("err = %v (%T), want *ErrCompression", err, err)
	}
}
