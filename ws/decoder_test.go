package ws

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecoderWholeFrameAtOnce(t *testing.T) {
	wire, err := EncodeFrame([]byte("ping"), OpcodeText, true, true, false)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	d := NewDecoder(false)
	d.Feed(wire)

	frame, err := d.Decode(false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(frame.Payload, []byte("ping")) {
		t.Errorf("Payload = %q, want %q", frame.Payload, "ping")
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	wire, err := EncodeFrame(bytes.Repeat([]byte{'z'}, 500), OpcodeBinary, false, true, false)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	d := NewDecoder(false)
	var frame *Frame
	for i := 0; i < len(wire); i++ {
		d.Feed(wire[i : i+1])
		frame, err = d.Decode(false)
		if errors.Is(err, ErrNeedMore) {
			continue
		}
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		break
	}
	if frame == nil {
		t.Fatal("never decoded a frame")
	}
	if len(frame.Payload) != 500 {
		t.Errorf("len(Payload) = %d, want 500", len(frame.Payload))
	}
}

func TestDecoderMultipleFramesAcrossChunkBoundaries(t *testing.T) {
	wire1, _ := EncodeFrame([]byte("first"), OpcodeText, true, true, false)
	wire2, _ := EncodeFrame([]byte("second"), OpcodeText, true, true, false)
	wire3, _ := EncodeFrame([]byte("third"), OpcodeText, true, true, false)
	combined := append(append(append([]byte{}, wire1...), wire2...), wire3...)

	// Split at arbitrary, non-frame-aligned points.
	splits := []int{3, 17, len(wire1) + 2, len(wire1) + len(wire2) - 1}

	d := NewDecoder(false)
	prev := 0
	for _, at := range splits {
		d.Feed(combined[prev:at])
		prev = at
	}
	d.Feed(combined[prev:])

	var got []string
	for {
		frame, err := d.Decode(false)
		if errors.Is(err, ErrNeedMore) {
			break
		}
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, string(frame.Payload))
	}

	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %v frames, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecoderNeedMoreRetainsData(t *testing.T) {
	wire, _ := EncodeFrame([]byte("hello"), OpcodeText, true, true, false)

	d := NewDecoder(false)
	d.Feed(wire[:3])
	if _, err := d.Decode(false); !errors.Is(err, ErrNeedMore) {
		t.Fatalf("Decode err = %v, want ErrNeedMore", err)
	}
	if d.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", d.Pending())
	}

	d.Feed(wire[3:])
	frame, err := d.Decode(false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(frame.Payload, []byte("hello")) {
		t.Errorf("Payload = %q, want %q", frame.Payload, "hello")
	}
}

func TestDecoderCompressionFailureAdvancesPastFrame(t *testing.T) {
	badWire, _ := EncodeFrame([]byte{0xDE, 0xAD, 0xBE, 0xEF}, OpcodeText, false, true, true)
	goodWire, _ := EncodeFrame([]byte("recovered"), OpcodeText, false, true, false)

	d := NewDecoder(true)
	d.Feed(badWire)
	d.Feed(goodWire)

	_, err := d.Decode(false)
	if err == nil {
		t.Fatal("Decode: want a compression error for the first frame")
	}

	frame, err := d.Decode(false)
	if err != nil {
		t.Fatalf("Decode (second frame): %v", err)
	}
	if !bytes.Equal(frame.Payload, []byte("recovered")) {
		t.Errorf("Payload = %q, want %q", frame.Payload, "recovered")
	}
}
