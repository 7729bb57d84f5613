package ws

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// connCounter hands out connection IDs for log correlation only; it has
// no protocol meaning.
var connCounter uint64

// Conn is a single WebSocket connection: the state machine of spec.md
// section 4.E. All of its mutable state (readyState, the continuation
// buffer, sentClose) is thread-affine to the goroutine driving its read
// loop, per spec.md section 5 — the write path is the one exception,
// guarded by writeMu so Send/SendPing/SendPong/SendClose may be called
// from other goroutines (spec.md section 9: "send is called across
// threads in some deployments").
type Conn struct {
	id       uint64
	isServer bool
	stream   net.Conn
	decoder  *Decoder
	events   Events
	log      zerolog.Logger

	maxMessageLength   int
	socketBufferLength int
	perMessageDeflate  bool

	// Server-only handshake metadata (spec.md section 3 "Connection").
	path   string
	header http.Header

	mu          sync.Mutex
	readyState  ReadyState
	sentClose   bool
	closeOnce   sync.Once

	// Continuation reassembly (spec.md section 9: "a single buffer with
	// incremental append ... and a starts-compressed flag").
	continuation           *bytebufferpool.ByteBuffer
	continuationOpcode     byte
	continuationCompressed bool
	inContinuation         bool

	writeMu sync.Mutex
}

// connConfig collects the construction parameters shared by the client
// and server endpoints (spec.md section 6 "Configuration").
type connConfig struct {
	isServer           bool
	stream             net.Conn
	perMessageDeflate  bool
	maxMessageLength   int
	socketBufferLength int
	path               string
	header             http.Header
	events             Events
	logger             *zerolog.Logger
}

const (
	defaultMaxMessageLength   = 4096
	defaultSocketBufferLength = 102400
)

func newConn(cfg connConfig) *Conn {
	maxLen := cfg.maxMessageLength
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLength
	}
	bufLen := cfg.socketBufferLength
	if bufLen <= 0 {
		bufLen = defaultSocketBufferLength
	}

	logger := zerolog.Nop()
	if cfg.logger != nil {
		logger = *cfg.logger
	}

	c := &Conn{
		id:                 atomic.AddUint64(&connCounter, 1),
		isServer:           cfg.isServer,
		stream:             cfg.stream,
		decoder:            NewDecoder(cfg.perMessageDeflate),
		events:             cfg.events,
		perMessageDeflate:  cfg.perMessageDeflate,
		maxMessageLength:   maxLen,
		socketBufferLength: bufLen,
		path:               cfg.path,
		header:             cfg.header,
		readyState:         StateConnecting,
	}
	c.log = logger.With().Uint64("conn_id", c.id).Bool("server", c.isServer).Logger()
	return c
}

// ReadyState reports the connection's current lifecycle state.
func (c *Conn) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyState
}

// Path returns the server-side URL path the connection upgraded on. It
// is empty for client connections.
func (c *Conn) Path() string { return c.path }

// Header returns the server-side request headers from the handshake. It
// is nil for client connections.
func (c *Conn) Header() http.Header { return c.header }

// RemoteAddr returns the underlying transport's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.stream.RemoteAddr() }

// open transitions CONNECTING -> OPEN and fires OnOpen. Called by the
// endpoint once the handshake is complete (see SPEC_FULL.md's Open
// Question resolution: the server opens immediately after writing the
// 101 response rather than waiting for a first PING).
func (c *Conn) open() {
	c.mu.Lock()
	c.readyState = StateOpen
	c.mu.Unlock()

	c.log.Debug().Msg("connection open")
	if c.events.OnOpen != nil {
		c.events.OnOpen(c)
	}
}

// runReadLoop drives the incremental decoder against the transport
// until the connection closes. It is the "decoder loop" spec.md section
// 4.F says the endpoint installs after the handshake. preface holds any
// bytes read past the handshake sentinel that must be decoded first.
func (c *Conn) runReadLoop(preface []byte) {
	if len(preface) > 0 {
		c.decoder.Feed(preface)
	}

	buf := make([]byte, c.socketBufferLength)
	for {
		if c.drainFrames() {
			return // connection reached CLOSED while draining
		}

		n, err := c.stream.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])
		}
		if err != nil {
			c.handleTransportError(err)
			return
		}
	}
}

// drainFrames decodes and routes every complete frame currently
// buffered. It returns true once the connection has been destroyed.
func (c *Conn) drainFrames() bool {
	for {
		frame, err := c.decoder.Decode(c.continuationCompressed)
		if errors.Is(err, ErrNeedMore) {
			return false
		}
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				c.failProtocol(perr)
				return true
			}
			// Any non-protocol decode error is recoverable: surface it
			// and keep decoding subsequent frames.
			c.emitError(err)
			continue
		}

		if done := c.routeFrame(frame); done {
			return true
		}
	}
}

func (c *Conn) handleTransportError(err error) {
	if errors.Is(err, io.EOF) {
		c.destroy(nil)
		return
	}
	c.emitError(err)
	c.destroy(nil)
}

// routeFrame implements spec.md section 4.E's inbound frame routing
// table. It returns true once the connection has reached CLOSED.
func (c *Conn) routeFrame(f *Frame) bool {
	if c.isServer && !f.Masked {
		c.failMasking(CloseProtocolError, "unmasked frame")
		return true
	}
	if !c.isServer && f.Masked {
		c.failMasking(CloseProtocolError, "masked frame")
		return true
	}

	switch f.Opcode {
	case OpcodePing:
		c.log.Debug().Int("len", len(f.Payload)).Msg("ping received")
		if c.events.OnPing != nil {
			c.events.OnPing(c, f.Payload)
		}
		if err := c.SendPong(f.Payload); err != nil {
			c.emitError(err)
		}

	case OpcodePong:
		c.log.Debug().Int("len", len(f.Payload)).Msg("pong received")
		if c.events.OnPong != nil {
			c.events.OnPong(c, f.Payload)
		}

	case OpcodeClose:
		return c.handleCloseFrame(f.Payload)

	case OpcodeContinuation:
		c.appendContinuation(f)

	case OpcodeText, OpcodeBinary:
		if f.Fin {
			c.emitMessage(f.Opcode, f.Payload, f.Compressed)
		} else {
			c.startContinuation(f)
		}
	}

	return false
}

func (c *Conn) startContinuation(f *Frame) {
	c.continuation = getBuffer()
	c.continuation.Write(f.Payload)
	c.continuationOpcode = f.Opcode
	c.continuationCompressed = f.Compressed
	c.inContinuation = true
}

// appendContinuation concatenates raw (still-compressed, if applicable)
// continuation bytes into the reassembly buffer. Compression is a
// per-message property (spec.md section 4.B): a deflate stream split
// across fragments is not independently inflatable per frame, so
// inflate runs once against the fully reassembled buffer in
// emitMessage, not here.
func (c *Conn) appendContinuation(f *Frame) {
	if !c.inContinuation {
		c.failProtocol(newProtocolError(CloseProtocolError, "unexpected continuation frame", ErrProtocolViolation))
		return
	}

	c.continuation.Write(f.Payload)
	if f.Fin {
		payload := append([]byte(nil), c.continuation.B...)
		opcode := c.continuationOpcode
		compressed := c.continuationCompressed
		putBuffer(c.continuation)
		c.continuation = nil
		c.inContinuation = false
		c.continuationCompressed = false
		c.emitMessage(opcode, payload, compressed)
	}
}

// emitMessage delivers a fully reassembled message. If compressed is
// set, payload is still the raw (concatenated) deflate stream and must
// be inflated once here, not per frame (spec.md section 4.B). Inflate
// failure is a CompressionError (spec.md section 7): reported via
// OnError, the connection is left open.
func (c *Conn) emitMessage(opcode byte, payload []byte, compressed bool) {
	if compressed {
		inflated, err := inflateMessage(payload)
		if err != nil {
			c.emitError(err)
			return
		}
		payload = inflated
	}

	c.mu.Lock()
	isOpen := c.readyState == StateOpen
	c.mu.Unlock()
	if !isOpen {
		return // spec.md section 5: no message events emitted after CLOSING
	}

	if c.events.OnMessage != nil {
		c.events.OnMessage(c, opcode, payload)
	}
}

// handleCloseFrame implements the CLOSE row of spec.md section 4.E's
// routing table: transition to CLOSING, echo a CLOSE if we have not
// already sent one, then destroy. Returns true (connection is CLOSED).
func (c *Conn) handleCloseFrame(payload []byte) bool {
	c.mu.Lock()
	c.readyState = StateClosing
	alreadySent := c.sentClose
	c.mu.Unlock()

	if !alreadySent {
		_ = c.SendClose(payload)
	}

	c.destroy(payload)
	return true
}

// failMasking implements the MaskingViolation error kind (spec.md
// section 7): send CLOSE with the given reason, destroy.
func (c *Conn) failMasking(code uint16, reason string) {
	var err error
	if reason == "unmasked frame" {
		err = ErrMaskRequired
	} else {
		err = ErrMaskNotAllowed
	}
	c.failProtocol(newProtocolError(code, reason, err))
}

// failProtocol implements the ProtocolError error kind: emit error, send
// CLOSE with the failure reason, destroy.
func (c *Conn) failProtocol(perr *ProtocolError) {
	c.emitError(perr)
	payload := closeCodePayload(perr.Code, perr.Reason)
	_ = c.writeControl(OpcodeClose, payload)

	c.mu.Lock()
	c.sentClose = true
	c.readyState = StateClosing
	c.mu.Unlock()

	c.destroy(payload)
}

func (c *Conn) emitError(err error) {
	c.log.Warn().Err(err).Msg("websocket error")
	if c.events.OnError != nil {
		c.events.OnError(c, err)
	}
}

// Send normalizes v to bytes and transmits it as a single message,
// fragmenting if it exceeds maxMessageLength (spec.md section 4.E
// "Outbound send(payload)"). v must be []byte or string; anything else
// is a SendTypeError reported via OnError with no wire effect.
func (c *Conn) Send(v any) error {
	var payload []byte
	var opcode byte
	switch t := v.(type) {
	case []byte:
		payload, opcode = t, OpcodeBinary
	case string:
		payload, opcode = []byte(t), OpcodeText
	default:
		err := errors.New("websocket: send can only process binary or text frames")
		c.emitError(err)
		return err
	}
	return c.sendMessage(opcode, payload)
}

func (c *Conn) sendMessage(opcode byte, payload []byte) error {
	compressed := false
	if c.perMessageDeflate && len(payload) > 0 {
		compacted, err := deflateMessage(payload)
		if err != nil {
			c.emitError(err)
			return err
		}
		payload = compacted
		compressed = true
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(payload) <= c.maxMessageLength {
		return c.writeFrameLocked(payload, opcode, true, compressed)
	}

	// Fragment per spec.md section 4.E step 4: first slice keeps the
	// original opcode and RSV1 if compressed, continuations never set
	// RSV1, last continuation carries fin=true.
	offset := 0
	first := true
	for offset < len(payload) {
		end := offset + c.maxMessageLength
		if end > len(payload) {
			end = len(payload)
		}
		slice := payload[offset:end]
		fin := end == len(payload)

		frameOpcode := OpcodeContinuation
		frameCompressed := false
		if first {
			frameOpcode = opcode
			frameCompressed = compressed
		}
		if err := c.writeFrameLocked(slice, frameOpcode, fin, frameCompressed); err != nil {
			return err
		}
		offset = end
		first = false
	}
	return nil
}

// SendPing emits an unfragmented, uncompressed PING.
func (c *Conn) SendPing(payload []byte) error {
	return c.writeControl(OpcodePing, payload)
}

// SendPong emits an unfragmented, uncompressed PONG.
func (c *Conn) SendPong(payload []byte) error {
	return c.writeControl(OpcodePong, payload)
}

// SendClose emits a CLOSE frame and marks sentClose (spec.md section
// 4.E "Outbound control frames"). It does not itself transition
// readyState or destroy the transport; callers that want the graceful
// shutdown sequence should use Close.
func (c *Conn) SendClose(payload []byte) error {
	c.mu.Lock()
	c.sentClose = true
	c.mu.Unlock()
	return c.writeControl(OpcodeClose, payload)
}

func (c *Conn) writeControl(opcode byte, payload []byte) error {
	if len(payload) > MaxControlFramePayload {
		return ErrInvalidControlFrame
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFrameLocked(payload, opcode, true, false)
}

func (c *Conn) writeFrameLocked(payload []byte, opcode byte, fin bool, compressed bool) error {
	out, err := EncodeFrame(payload, opcode, !c.isServer, fin, compressed)
	if err != nil {
		return err
	}
	_, err = c.stream.Write(out)
	if err != nil {
		c.emitError(err)
	}
	return err
}

// closeCodePayload builds a 2-byte code + UTF-8 reason CLOSE payload.
func closeCodePayload(code uint16, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return payload
}

// Close performs the graceful shutdown sequence of spec.md section 5:
// send a CLOSE frame and transition to CLOSING. The final close event
// fires once the peer's reciprocal CLOSE (or transport EOF) arrives at
// the read loop.
func (c *Conn) Close(payload []byte) error {
	c.mu.Lock()
	if c.readyState == StateClosed || c.readyState == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.readyState = StateClosing
	c.mu.Unlock()

	return c.SendClose(payload)
}

// Destroy is the hard stop of spec.md section 5: it forcibly closes the
// transport and emits close(payload) exactly once. A pending outbound
// write may be lost.
func (c *Conn) Destroy(payload []byte) {
	c.destroy(payload)
}

func (c *Conn) destroy(payload []byte) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.readyState = StateClosed
		c.mu.Unlock()

		if c.continuation != nil {
			putBuffer(c.continuation)
			c.continuation = nil
		}

		_ = c.stream.Close()
		c.log.Debug().Msg("connection closed")
		if c.events.OnClose != nil {
			c.events.OnClose(c, payload)
		}
	})
}
