package ws

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServerOptions configures a Server endpoint (spec.md section 4.F
// "Server").
type ServerOptions struct {
	Host    string
	Port    int
	Backlog int

	// SupportPerMessageDeflate enables negotiating permessage-deflate
	// when the client offers it. Compression is only ever used if both
	// sides agree.
	SupportPerMessageDeflate bool

	MaxMessageLength   int
	SocketBufferLength int

	// PingInterval, if positive, starts a heartbeat that calls
	// SendPing on every registered connection at this period
	// (SPEC_FULL.md's supplemented ping-ticker feature). Zero
	// disables the heartbeat.
	PingInterval time.Duration

	// Handler serves any HTTP request that is not a WebSocket upgrade.
	// A nil Handler responds 200 "OK" to everything, per spec.md
	// section 4.F.
	Handler http.Handler

	// OnConnection is invoked once a connection finishes the upgrade
	// and is registered, before any frames are processed.
	OnConnection func(c *Conn)

	Events Events
	Logger *zerolog.Logger
}

// Server is the server-side WebSocket endpoint (spec.md section 4.F).
// It owns an ordered registry of active connections (spec.md section 3
// "Server registry"): insertion on successful upgrade, removal on
// close.
type Server struct {
	opts ServerOptions
	log  zerolog.Logger

	listener net.Listener

	mu    sync.Mutex
	conns []*Conn

	pingStop chan struct{}
}

// Listen starts accepting TCP connections and upgrading WebSocket
// handshakes on them. It returns once the listener is bound; accepting
// happens on a background goroutine.
func Listen(opts ServerOptions) (*Server, error) {
	host := opts.Host
	if host == "" {
		host = "0.0.0.0"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(opts.Port))

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		opts:     opts,
		log:      logger.With().Str("component", "ws.Server").Logger(),
		listener: ln,
	}

	go s.acceptLoop()
	if opts.PingInterval > 0 {
		s.pingStop = make(chan struct{})
		go s.pingLoop()
	}
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(stream net.Conn) {
	// Read until the handshake sentinel, preserving any bytes the
	// client pipelined past it (spec.md section 4.C "Parsing").
	accum := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)
	var req *HandshakeRequest
	var rest []byte
	var err error
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			accum = append(accum, chunk[:n]...)
			req, rest, err = ParseHandshakeRequest(accum)
			if err == nil {
				break
			}
			if err != ErrNeedMore {
				stream.Close()
				return
			}
		}
		if readErr != nil {
			stream.Close()
			return
		}
	}

	key, offeredCompression, ok := ValidateUpgradeRequest(req)
	if !ok {
		s.serveHTTPFallback(stream, req)
		return
	}

	withCompression := offeredCompression && s.opts.SupportPerMessageDeflate
	resp := BuildServerAcceptResponse(key, withCompression)
	if _, err := stream.Write(resp); err != nil {
		stream.Close()
		return
	}

	conn := newConn(connConfig{
		isServer:           true,
		stream:             stream,
		perMessageDeflate:  withCompression,
		maxMessageLength:   s.opts.MaxMessageLength,
		socketBufferLength: s.opts.SocketBufferLength,
		path:               req.RequestURI,
		header:             req.Header,
		events:             s.opts.Events,
		logger:             s.opts.Logger,
	})

	s.register(conn)
	conn.open()
	if s.opts.OnConnection != nil {
		s.opts.OnConnection(conn)
	}
	conn.runReadLoop(rest)
	s.unregister(conn)
}

// serveHTTPFallback dispatches a non-upgrade request to the configured
// HTTP handler, defaulting to 200 "OK" (spec.md section 4.F).
func (s *Server) serveHTTPFallback(stream net.Conn, req *HandshakeRequest) {
	defer stream.Close()

	if s.opts.Handler == nil || req == nil {
		stream.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nOK"))
		return
	}

	httpReq, err := http.NewRequest(req.Method, "http://"+req.Host+req.RequestURI, nil)
	if err != nil {
		stream.Write(BuildBadRequestResponse())
		return
	}
	httpReq.Header = req.Header
	httpReq.Host = req.Host

	w := &rawResponseWriter{stream: stream, header: make(http.Header)}
	s.opts.Handler.ServeHTTP(w, httpReq)
	w.flushStatus()
}

// rawResponseWriter is a minimal http.ResponseWriter that writes
// directly to a raw net.Conn, for the non-upgrade fallback path where
// no net/http.Server is otherwise involved.
type rawResponseWriter struct {
	stream      net.Conn
	header      http.Header
	wroteHeader bool
	status      int
}

func (w *rawResponseWriter) Header() http.Header { return w.header }

func (w *rawResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	fmtStatusLine(w.stream, status, w.header)
}

func (w *rawResponseWriter) Write(p []byte) (int, error) {
	w.flushStatus()
	return w.stream.Write(p)
}

func (w *rawResponseWriter) flushStatus() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

func fmtStatusLine(stream net.Conn, status int, header http.Header) {
	line := "HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n"
	stream.Write([]byte(line))
	for k, vs := range header {
		for _, v := range vs {
			stream.Write([]byte(k + ": " + v + "\r\n"))
		}
	}
	stream.Write([]byte("\r\n"))
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	for i, other := range s.conns {
		if other == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *Server) pingLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			targets := append([]*Conn(nil), s.conns...)
			s.mu.Unlock()
			for _, c := range targets {
				_ = c.SendPing(nil)
			}
		case <-s.pingStop:
			return
		}
	}
}

// Close stops accepting new connections and invokes close on each
// active connection in insertion order (spec.md section 3 "Server close
// semantics").
func (s *Server) Close() error {
	err := s.listener.Close()
	if s.pingStop != nil {
		close(s.pingStop)
	}

	s.mu.Lock()
	targets := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range targets {
		c.Close(nil)
	}
	return err
}

// Connections returns a snapshot of the currently registered
// connections, in insertion order.
func (s *Server) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}
