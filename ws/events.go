package ws

// Events is the fixed set of callbacks a Connection delivers to its
// owner (spec.md section 4.G). Per the redesign note in section 9, this
// is a small struct of function fields rather than a dynamic event
// emitter — there is no subscribe/unsubscribe, and at most one callback
// per event is ever installed.
//
// Delivery order matches the order events occur. A fatal error is
// always followed by exactly one Close call. OnClose is guaranteed to
// fire exactly once per connection even if it is nil (a nil OnClose
// simply means the event is dropped, not skipped at the state-machine
// level).
type Events struct {
	// OnOpen fires once the connection transitions to OPEN.
	OnOpen func(c *Conn)

	// OnMessage fires once per complete inbound message (after
	// fragment reassembly and decompression).
	OnMessage func(c *Conn, opcode byte, payload []byte)

	// OnPing fires when a PING control frame is received. The
	// connection sends the echoing PONG after this callback returns.
	OnPing func(c *Conn, payload []byte)

	// OnPong fires when a PONG control frame is received.
	OnPong func(c *Conn, payload []byte)

	// OnError fires for any of the error kinds in spec.md section 7.
	// If nil, the connection logs the error instead of dropping it
	// silently (spec.md section 4.G: "MUST NOT crash the process
	// silently").
	OnError func(c *Conn, err error)

	// OnClose fires exactly once when the connection reaches CLOSED.
	// payload carries the peer's CLOSE payload when the peer closed the
	// connection, the CLOSE payload this side sent when it failed the
	// connection on a protocol error, or the bytes passed to Destroy;
	// it is nil when the transport ended without either.
	OnClose func(c *Conn, payload []byte)
}
