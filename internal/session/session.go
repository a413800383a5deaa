// Package session implements the per-connection SOCKS5 state machine: the
// handshake, upstream connect orchestration, the bidirectional relay, and
// the close protocol that guarantees a session's endpoints are closed
// exactly once.
//
// Each accepted connection runs on its own goroutine doing ordinary
// blocking reads and writes. Closing is idempotent via sync.Once, and a
// Session is done once both of its relay goroutines have returned.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ealireza/socks5proxy/internal/logging"
	"github.com/ealireza/socks5proxy/internal/netutil"
	"github.com/ealireza/socks5proxy/internal/socks5"
)

// Phase is the Session's high-level state. Transitions are monotonic
// forward except that Ending is terminal.
type Phase int

const (
	PhaseMethodNegotiation Phase = iota
	PhaseRequest
	PhaseStreaming
	PhaseEnding
)

func (p Phase) String() string {
	switch p {
	case PhaseMethodNegotiation:
		return "method-negotiation"
	case PhaseRequest:
		return "request"
	case PhaseStreaming:
		return "streaming"
	case PhaseEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Context is the read-only slice of ServerContext a Session needs. It is
// safe to share across every Session because it is never mutated after
// the listener starts.
type Context struct {
	BoundAddr  net.IP
	BoundPort  int
	KeepAlive  time.Duration
	DNSTimeout time.Duration
	BufferSize int
}

// Session owns one client endpoint and its paired upstream endpoint.
type Session struct {
	client   net.Conn
	upstream net.Conn
	ctx      Context
	log      *logging.Logger

	resolver *Resolver

	// phase is touched by Run's goroutine and by both relay goroutines
	// (via closeSession), so it is an atomic rather than a plain field.
	phase     atomic.Int32
	closeOnce sync.Once
}

// Phase returns the Session's current phase.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Session) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// New creates a Session for an already-accepted client connection. The
// upstream endpoint is connected lazily once the request phase resolves a
// target.
func New(client net.Conn, ctx Context) *Session {
	return &Session{
		client:   client,
		ctx:      ctx,
		log:      logging.New("session"),
		resolver: NewResolver(ctx.DNSTimeout),
	}
}

// Run drives the Session to completion: handshake, connect, relay, close.
// It returns once every resource the Session opened has been released,
// which is also the point at which it becomes safe to drop the last
// reference to the Session.
func (s *Session) Run() {
	defer s.closeSession()

	buf := make([]byte, s.ctx.BufferSize)
	hs := newHandshakeReader(s.client, buf)

	if err := s.negotiateMethod(hs); err != nil {
		s.log.Debugf("method negotiation: %v", err)
		return
	}

	req, err := s.readRequest(hs)
	if err != nil {
		s.log.Debugf("request: %v", err)
		return
	}

	if err := s.connectUpstream(req); err != nil {
		s.log.Debugf("connect: %v", err)
		return
	}

	s.setPhase(PhaseStreaming)
	s.relay(hs.leftover())
}

// negotiateMethod runs the greeting decoder to completion and replies with
// the selected method, transitioning MethodNegotiation -> Request on
// success.
func (s *Session) negotiateMethod(hs *handshakeReader) error {
	var g socks5.Greeting
	if err := hs.feedUntilDone(g.Feed); err != nil {
		// Malformed greeting: close without a reply.
		return err
	}

	if !g.Methods.Has(socks5.MethodNoAuth) {
		s.client.Write([]byte{socks5.Version, socks5.MethodNoAcceptable})
		return errors.New("no acceptable auth method offered")
	}

	if _, err := s.client.Write([]byte{socks5.Version, socks5.MethodNoAuth}); err != nil {
		return fmt.Errorf("write method reply: %w", err)
	}

	s.setPhase(PhaseRequest)
	return nil
}

// readRequest runs the request decoder to completion. On a decode error it
// sends the mapped SOCKS5 error reply before returning.
func (s *Session) readRequest(hs *handshakeReader) (*socks5.Request, error) {
	var r socks5.Request
	if err := hs.feedUntilDone(r.Feed); err != nil {
		s.sendErrorReply(socks5.ReplyCodeFor(err))
		return nil, err
	}
	return &r, nil
}

// connectUpstream resolves (for ATYP=Domain) and connects to the
// destination, sending the success or error reply, and transitioning the
// Session to Ending on failure.
func (s *Session) connectUpstream(req *socks5.Request) error {
	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: s.ctx.KeepAlive,
		Control:   netutil.SetKeepAlive(int(s.ctx.KeepAlive.Seconds())),
	}

	var lastErr error

	switch req.Atyp {
	case socks5.ATYPIPv4, socks5.ATYPIPv6:
		target := net.JoinHostPort(net.IP(req.DstAddr).String(), strconv.Itoa(int(req.DstPort)))
		conn, err := dialer.Dial("tcp", target)
		if err != nil {
			lastErr = err
		} else {
			s.upstream = conn
		}

	case socks5.ATYPDomain:
		candidates, err := s.resolver.Resolve(context.Background(), string(req.DstAddr))
		if err != nil {
			s.sendErrorReply(classifyResolveErr(err))
			return fmt.Errorf("resolve %q: %w", req.DstAddr, err)
		}

		for _, c := range candidates {
			target := net.JoinHostPort(c.IP.String(), strconv.Itoa(int(req.DstPort)))
			conn, err := dialer.Dial("tcp", target)
			if err != nil {
				lastErr = err
				continue
			}
			s.upstream = conn
			lastErr = nil
			break
		}

	default:
		// The decoder already rejects any other ATYP; unreachable.
		lastErr = socks5.ErrBadATYP
	}

	if s.upstream == nil {
		s.sendErrorReply(classifyConnectErr(lastErr))
		return fmt.Errorf("connect upstream: %w", lastErr)
	}

	if tc, ok := s.upstream.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(s.ctx.KeepAlive)
	}

	reply := socks5.AppendReply(nil, socks5.RepSuccess, s.ctx.BoundAddr, uint16(s.ctx.BoundPort))
	if _, err := s.client.Write(reply); err != nil {
		return fmt.Errorf("write success reply: %w", err)
	}

	return nil
}

// relay runs the Streaming phase: one goroutine per direction, each doing
// a plain blocking read-then-write loop.
//
// primer carries any bytes the client sent immediately after the request
// message, before this Session had replied; they are forwarded to the
// upstream before the relay goroutines start.
func (s *Session) relay(primer []byte) {
	if len(primer) > 0 {
		if _, err := s.upstream.Write(primer); err != nil {
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.pump(s.upstream, s.client, make([]byte, s.ctx.BufferSize))
	}()
	go func() {
		defer wg.Done()
		s.pump(s.client, s.upstream, make([]byte, s.ctx.BufferSize))
	}()

	wg.Wait()
}

// pump copies from src to dst until either side errors or closes. Any EOF
// or error on either direction ends the whole Session, so pump closes the
// Session rather than keeping the opposite direction alive with a
// half-close.
func (s *Session) pump(dst, src net.Conn, buf []byte) {
	defer s.closeSession()

	for {
		n, err := src.Read(buf)
		if n == 0 && err == nil {
			// A zero-length, error-free completion carries no data and is
			// not a close signal; keep reading.
			continue
		}
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// sendErrorReply writes a SOCKS5 error reply with an all-zero BND.ADDR;
// the Session proceeds to Ending afterward.
func (s *Session) sendErrorReply(rep uint8) {
	reply := socks5.AppendReply(nil, rep, nil, 0)
	s.client.Write(reply)
}

// closeSession is the single close path: idempotent via sync.Once, so
// only the first call takes effect.
func (s *Session) closeSession() {
	s.closeOnce.Do(func() {
		s.setPhase(PhaseEnding)
		s.client.Close()
		if s.upstream != nil {
			s.upstream.Close()
		}
	})
}

// classifyConnectErr maps a connect() failure to a SOCKS5 REP code, the
// same style the teacher's proxy.go uses against syscall sentinel errors.
func classifyConnectErr(err error) uint8 {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return socks5.RepConnRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return socks5.RepNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return socks5.RepHostUnreachable
	default:
		return socks5.RepGeneralFailure
	}
}

// classifyResolveErr maps a DNS resolution failure to a REP code. Go's
// net package does not expose a granular enum for resolver failures, so
// anything other than a timeout collapses to RepHostUnreachable.
func classifyResolveErr(err error) uint8 {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return socks5.RepGeneralFailure
	}
	return socks5.RepHostUnreachable
}

// handshakeReader buffers partial reads for the decoder state machines
// and preserves any bytes read past the end of one message for the next
// consumer.
type handshakeReader struct {
	conn net.Conn
	buf  []byte
	r, w int
}

func newHandshakeReader(conn net.Conn, buf []byte) *handshakeReader {
	return &handshakeReader{conn: conn, buf: buf}
}

// feedUntilDone feeds feed with whatever bytes are already buffered, and
// reads more from conn as needed, until feed reports done or an error.
func (h *handshakeReader) feedUntilDone(feed func([]byte) (int, bool, error)) error {
	for {
		if h.r < h.w {
			n, done, err := feed(h.buf[h.r:h.w])
			h.r += n
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}

		if h.r == h.w {
			h.r, h.w = 0, 0
		}
		if h.w == len(h.buf) {
			return fmt.Errorf("socks5: handshake message exceeds %d-byte buffer", len(h.buf))
		}

		n, err := h.conn.Read(h.buf[h.w:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		h.w += n
	}
}

// leftover returns bytes already read from conn but not yet consumed by
// any decoder: payload the client pipelined ahead of this Session's
// reply.
func (h *handshakeReader) leftover() []byte {
	return h.buf[h.r:h.w]
}
