package ws

import "testing"

func TestComputeAcceptKey(t *testing.T) {
	tests := []struct {
		key    string
		expect string
	}{
		{
			// Example from RFC 6455 section 1.3.
			key:    "dGhlIHNhbXBsZSBub25jZQ==",
			expect: "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		},
		{
			key:    "x3JJHMbDL1EzLkh9GBhXDw==",
			expect: "HSmrc0sMlYUkAGmm5OPpG2HaGWk=",
		},
	}

	for _, tt := range tests {
		got := ComputeAcceptKey(tt.key)
		if got != tt.expect {
			t.Errorf("ComputeAcceptKey(%q) = %q, want %q", tt.key, got, tt.expect)
		}
	}
}

func TestReadyStateString(t *testing.T) {
	tests := []struct {
		state  ReadyState
		expect string
	}{
		{StateConnecting, "CONNECTING"},
		{StateOpen, "OPEN"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{ReadyState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expect {
			t.Errorf("ReadyState(%d).String() = %q, want %q", tt.state, got, tt.expect)
		}
	}
}

func TestFrameIsControl(t *testing.T) {
	tests := []struct {
		opcode byte
		expect bool
	}{
		{OpcodeContinuation, false},
		{OpcodeText, false},
		{OpcodeBinary, false},
		{OpcodeClose, true},
		{OpcodePing, true},
		{OpcodePong, true},
	}
	for _, tt := range tests {
		f := &Frame{Opcode: tt.opcode}
		if got := f.IsControl(); got != tt.expect {
			t.Errorf("Frame{Opcode: 0x%x}.IsControl() = %v, want %v", tt.opcode, got, tt.expect)
		}
	}
}

func TestProtocolErrorUnwrap(t *testing.T) {
	perr := newProtocolError(CloseProtocolError, "reserved bits must be 0", ErrReservedBitsSet)
	if perr.Unwrap() != ErrReservedBitsSet {
		t.Errorf("Unwrap() = %v, want %v", perr.Unwrap(), ErrReservedBitsSet)
	}
	if perr.Code != CloseProtocolError {
		t.Errorf("Code = %d, want %d", perr.Code, CloseProtocolError)
	}
}
