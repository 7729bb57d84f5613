package ws

import (
	"net/http"
	"strings"
	"testing"
)

func TestGenerateHandshakeKeyIsUnique(t *testing.T) {
	a, err := GenerateHandshakeKey()
	if err != nil {
		t.Fatalf("GenerateHandshakeKey: %v", err)
	}
	b, err := GenerateHandshakeKey()
	if err != nil {
		t.Fatalf("GenerateHandshakeKey: %v", err)
	}
	if a == b {
		t.Error("two calls produced the same key")
	}
}

func TestBuildAndParseClientRequest(t *testing.T) {
	key, _ := GenerateHandshakeKey()
	extra := http.Header{"X-Custom": []string{"value"}}
	wire := BuildClientRequest("example.com:80", "/chat?room=1", key, true, extra)
	wire = append(wire, []byte("leftover-frame-bytes")...)

	req, rest, err := ParseHandshakeRequest(wire)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.RequestURI != "/chat?room=1" {
		t.Errorf("RequestURI = %q, want /chat?room=1", req.RequestURI)
	}
	if req.Header.Get("Sec-WebSocket-Key") != key {
		t.Errorf("Sec-WebSocket-Key = %q, want %q", req.Header.Get("Sec-WebSocket-Key"), key)
	}
	if req.Header.Get("X-Custom") != "value" {
		t.Error("custom header not preserved")
	}
	if string(rest) != "leftover-frame-bytes" {
		t.Errorf("rest = %q, want leftover-frame-bytes", rest)
	}

	gotKey, offered, ok := ValidateUpgradeRequest(req)
	if !ok {
		t.Fatal("ValidateUpgradeRequest: want ok")
	}
	if gotKey != key {
		t.Errorf("key = %q, want %q", gotKey, key)
	}
	if !offered {
		t.Error("offered compression = false, want true")
	}
}

func TestParseHandshakeRequestNeedMore(t *testing.T) {
	partial := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n")
	_, _, err := ParseHandshakeRequest(partial)
	if err != ErrNeedMore {
		t.Fatalf("err = %v, want ErrNeedMore", err)
	}
}

func TestValidateUpgradeRequestRejectsMissingKey(t *testing.T) {
	wire := []byte("GET / HTTP/1.1\r\nHost: example.com\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
	req, _, err := ParseHandshakeRequest(wire)
	if err != nil {
		t.Fatalf("ParseHandshakeRequest: %v", err)
	}
	_, _, ok := ValidateUpgradeRequest(req)
	if ok {
		t.Error("ValidateUpgradeRequest: want false for a missing Sec-WebSocket-Key")
	}
}

func TestBuildAndParseServerAcceptResponse(t *testing.T) {
	key, _ := GenerateHandshakeKey()
	wire := BuildServerAcceptResponse(key, true)

	resp, rest, err := ParseHandshakeResponse(wire)
	if err != nil {
		t.Fatalf("ParseHandshakeResponse: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q, want empty", rest)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("StatusCode = %d, want 101", resp.StatusCode)
	}

	compression, err := ValidateServerResponse(resp, key)
	if err != nil {
		t.Fatalf("ValidateServerResponse: %v", err)
	}
	if !compression {
		t.Error("compression = false, want true")
	}
}

func TestValidateServerResponseRejectsBadAccept(t *testing.T) {
	key, _ := GenerateHandshakeKey()
	otherKey, _ := GenerateHandshakeKey()
	wire := BuildServerAcceptResponse(otherKey, false)

	resp, _, err := ParseHandshakeResponse(wire)
	if err != nil {
		t.Fatalf("ParseHandshakeResponse: %v", err)
	}
	if _, err := ValidateServerResponse(resp, key); err != ErrHandshakeFailed {
		t.Errorf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestBuildBadRequestResponse(t *testing.T) {
	wire := BuildBadRequestResponse()
	if !strings.HasPrefix(string(wire), "HTTP/1.1 400 Bad Request") {
		t.Errorf("response = %q, want 400 status line", wire)
	}
}

func TestHeaderContainsToken(t *testing.T) {
	h := http.Header{"Sec-WebSocket-Extensions": []string{"permessage-deflate; client_max_window_bits"}}
	if !headerContainsToken(h, "Sec-WebSocket-Extensions", "permessage-deflate") {
		t.Error("want token found")
	}
	if headerContainsToken(h, "Sec-WebSocket-Extensions", "permessage-gzip") {
		t.Error("want token not found")
	}
}
