package ws

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// handshakeBoundary is the sentinel both sides scan for while buffering
// the HTTP upgrade request/response (spec.md section 4.C "Parsing").
var handshakeBoundary = []byte("\r\n\r\n")

// HandshakeRequest is the parsed client-to-server upgrade request.
type HandshakeRequest struct {
	Method     string
	RequestURI string
	Host       string
	Header     http.Header
}

// HandshakeResponse is the parsed server-to-client upgrade response.
type HandshakeResponse struct {
	StatusCode int
	Header     http.Header
}

// GenerateHandshakeKey produces a fresh Sec-WebSocket-Key: 16
// cryptographically random bytes, base64-encoded (spec.md section 3
// "Handshake state").
func GenerateHandshakeKey() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// BuildClientRequest builds the HTTP Upgrade request line and headers
// (spec.md section 4.C "Client request"). requestURI is path+query+fragment,
// transmitted verbatim per spec.md section 6.
func BuildClientRequest(host, requestURI, key string, offerCompression bool, extra http.Header) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", requestURI)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	if offerCompression {
		b.WriteString("Sec-WebSocket-Extensions: permessage-deflate; client_max_window_bits\r\n")
	}
	for k, vs := range extra {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// BuildServerAcceptResponse builds the 101 Switching Protocols response
// (spec.md section 4.C "Server response (success)"). withCompression
// controls whether the Sec-WebSocket-Extensions header is echoed back;
// the caller must only set it true when the client offered
// permessage-deflate AND the server is configured to support it.
func BuildServerAcceptResponse(key string, withCompression bool) []byte {
	accept := ComputeAcceptKey(key)

	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Accept: %s\r\n", accept)
	if withCompression {
		b.WriteString("Sec-WebSocket-Extensions: permessage-deflate\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// BuildBadRequestResponse builds the failure response (spec.md section
// 4.C "Server response (failure)"). The caller must half-close the
// transport after writing it.
func BuildBadRequestResponse() []byte {
	return []byte("HTTP/1.1 400 Bad Request\r\n\r\n")
}

// ParseHandshakeRequest looks for the \r\n\r\n sentinel in buf and, once
// found, parses the HTTP request line and headers. It returns
// ErrNeedMore if the sentinel has not yet arrived. Any bytes after the
// sentinel are returned as rest and MUST be fed to the frame decoder
// before any new transport reads (spec.md section 4.C "Parsing").
func ParseHandshakeRequest(buf []byte) (req *HandshakeRequest, rest []byte, err error) {
	idx := bytes.Index(buf, handshakeBoundary)
	if idx < 0 {
		return nil, nil, ErrNeedMore
	}

	head := buf[:idx+len(handshakeBoundary)]
	rest = buf[idx+len(handshakeBoundary):]

	httpReq, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return nil, nil, err
	}

	return &HandshakeRequest{
		Method:     httpReq.Method,
		RequestURI: httpReq.RequestURI,
		Host:       httpReq.Host,
		Header:     httpReq.Header,
	}, rest, nil
}

// ParseHandshakeResponse is the client-side counterpart of
// ParseHandshakeRequest.
func ParseHandshakeResponse(buf []byte) (resp *HandshakeResponse, rest []byte, err error) {
	idx := bytes.Index(buf, handshakeBoundary)
	if idx < 0 {
		return nil, nil, ErrNeedMore
	}

	head := buf[:idx+len(handshakeBoundary)]
	rest = buf[idx+len(handshakeBoundary):]

	httpResp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
	if err != nil {
		return nil, nil, err
	}
	defer httpResp.Body.Close()

	return &HandshakeResponse{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
	}, rest, nil
}

// ValidateUpgradeRequest checks the minimum requirements spec.md section
// 4.C names for a successful upgrade: an Upgrade: websocket header and a
// present Sec-WebSocket-Key. It returns the key and whether the client
// offered permessage-deflate.
func ValidateUpgradeRequest(req *HandshakeRequest) (key string, offeredCompression bool, ok bool) {
	if !headerContainsToken(req.Header, "Upgrade", "websocket") {
		return "", false, false
	}
	key = req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return "", false, false
	}
	offeredCompression = headerContainsToken(req.Header, "Sec-WebSocket-Extensions", "permessage-deflate")
	return key, offeredCompression, true
}

// ValidateServerResponse checks the client-side success criteria:
// a 101 status and a correct Sec-WebSocket-Accept, and reports whether
// the server accepted permessage-deflate.
func ValidateServerResponse(resp *HandshakeResponse, key string) (compression bool, err error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return false, ErrHandshakeFailed
	}
	expected := ComputeAcceptKey(key)
	if resp.Header.Get("Sec-WebSocket-Accept") != expected {
		return false, ErrHandshakeFailed
	}
	compression = headerContainsToken(resp.Header, "Sec-WebSocket-Extensions", "permessage-deflate")
	return compression, nil
}

// headerContainsToken reports whether any comma-separated value of
// header key contains token, case-insensitively.
func headerContainsToken(h http.Header, key, token string) bool {
	for _, v := range h[key] {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if i := strings.IndexByte(part, ';'); i >= 0 {
				part = strings.TrimSpace(part[:i])
			}
			if strings.EqualFold(part, token) {
				return true
			}
		}
	}
	return false
}
