package ws

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// ClientOptions configures a Client connection (spec.md section 4.F
// "Client"). URL is the only required field.
type ClientOptions struct {
	URL string

	// Header carries additional request headers sent with the upgrade
	// request (e.g. cookies, auth tokens).
	Header http.Header

	// EnableCompression offers permessage-deflate to the server
	// (spec.md section 6's offerPerMessageDeflate, default true). The
	// connection only ends up compressed if the server accepts it. A
	// nil value means true; set a false pointer to not offer it.
	EnableCompression *bool

	// AutoConnect triggers Connect immediately on NewClient when true
	// (the default; spec.md section 4.F). Set false to call Connect
	// explicitly later.
	AutoConnect *bool

	MaxMessageLength   int
	SocketBufferLength int

	// TLSConfig is used for wss:// connections. A nil value uses Go's
	// default verification against the system root pool.
	TLSConfig *tls.Config

	Events Events
	Logger *zerolog.Logger
}

// Client is the client-side WebSocket endpoint (spec.md section 4.F).
type Client struct {
	opts ClientOptions

	scheme string
	host   string
	target string // path + query + fragment, sent verbatim on the request line

	conn *Conn
}

// NewClient parses opts.URL and, unless AutoConnect is explicitly false,
// dials immediately. The scheme must be ws or wss (ErrInvalidURL
// otherwise); default ports are 80 and 443 respectively.
func NewClient(opts ClientOptions) (*Client, error) {
	scheme, host, target, err := parseClientURL(opts.URL)
	if err != nil {
		return nil, err
	}

	c := &Client{opts: opts, scheme: scheme, host: host, target: target}

	auto := opts.AutoConnect == nil || *opts.AutoConnect
	if auto {
		if err := c.Connect(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// parseClientURL validates the scheme and fills in the default port,
// per spec.md section 4.F.
func parseClientURL(raw string) (scheme, host, target string, err error) {
	u, parseErr := url.Parse(raw)
	if parseErr != nil {
		return "", "", "", ErrInvalidURL
	}

	switch u.Scheme {
	case "ws":
		scheme = "ws"
	case "wss":
		scheme = "wss"
	default:
		return "", "", "", ErrInvalidURL
	}

	host = u.Host
	if !strings.Contains(host, ":") {
		if scheme == "wss" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	target = u.RequestURI()
	if target == "" {
		target = "/"
	}
	if u.Fragment != "" {
		target += "#" + u.EscapedFragment()
	}
	return scheme, host, target, nil
}

// Connect disposes of any existing connection and performs a fresh TCP
// (or TLS) dial and handshake (spec.md section 4.F "connect()").
func (c *Client) Connect() error {
	if c.conn != nil {
		c.conn.Destroy(nil)
		c.conn = nil
	}

	var stream net.Conn
	var err error
	if c.scheme == "wss" {
		stream, err = tls.Dial("tcp", c.host, c.opts.TLSConfig)
	} else {
		stream, err = net.Dial("tcp", c.host)
	}
	if err != nil {
		return err
	}

	key, err := GenerateHandshakeKey()
	if err != nil {
		stream.Close()
		return err
	}

	req := BuildClientRequest(c.host, c.target, key, c.offerCompression(), c.opts.Header)
	if _, err := stream.Write(req); err != nil {
		stream.Close()
		return err
	}

	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)
	var resp *HandshakeResponse
	var rest []byte
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			resp, rest, err = ParseHandshakeResponse(buf)
			if err == nil {
				break
			}
			if err != ErrNeedMore {
				stream.Close()
				return err
			}
		}
		if readErr != nil {
			stream.Close()
			return ErrHandshakeFailed
		}
	}

	compression, err := ValidateServerResponse(resp, key)
	if err != nil {
		stream.Close()
		return err
	}

	conn := newConn(connConfig{
		isServer:           false,
		stream:             stream,
		perMessageDeflate:  compression,
		maxMessageLength:   c.opts.MaxMessageLength,
		socketBufferLength: c.opts.SocketBufferLength,
		events:             c.opts.Events,
		logger:             c.opts.Logger,
	})
	c.conn = conn

	conn.open()
	go conn.runReadLoop(rest)
	return nil
}

// Conn returns the underlying connection, or nil before the first
// successful Connect.
func (c *Client) Conn() *Conn { return c.conn }

// offerCompression reports whether to offer permessage-deflate on the
// handshake request, defaulting to true like AutoConnect.
func (c *Client) offerCompression() bool {
	return c.opts.EnableCompression == nil || *c.opts.EnableCompression
}

// Send, Close, SendPing, SendPong proxy to the underlying connection for
// callers that prefer to hold only the Client handle.
func (c *Client) Send(v any) error          { return c.conn.Send(v) }
func (c *Client) SendPing(p []byte) error    { return c.conn.SendPing(p) }
func (c *Client) SendPong(p []byte) error    { return c.conn.SendPong(p) }
func (c *Client) Close(payload []byte) error { return c.conn.Close(payload) }
