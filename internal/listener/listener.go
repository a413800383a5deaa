// Package listener implements the binding/accept loop and the
// process-lifetime ServerContext shared read-only by every Session.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ealireza/socks5proxy/internal/config"
	"github.com/ealireza/socks5proxy/internal/logging"
	"github.com/ealireza/socks5proxy/internal/netutil"
	"github.com/ealireza/socks5proxy/internal/session"
)

// ServerContext holds the listening endpoint's resolved local address and
// the configuration every Session needs but none may mutate. It is
// initialized once, before the accept loop starts, and never changed after
// listen succeeds.
type ServerContext struct {
	BoundAddr  net.IP
	BoundPort  int
	KeepAlive  time.Duration
	DNSTimeout time.Duration
	BufferSize int
}

// Server owns the bound listening socket and accepts connections into new
// Sessions, handing each off to its own lifecycle immediately.
type Server struct {
	ln  net.Listener
	ctx *ServerContext
	log *logging.Logger
}

// Listen resolves cfg.Host, tries (bind, listen) against each candidate
// address in order with cfg.Backlog, and keeps the first success. This
// mirrors the original libuv implementation's do_bind_and_listen, which
// walks a getaddrinfo result list rather than assuming a single literal
// address.
func Listen(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logging.New("listener")

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, cfg.Host)
	if err != nil {
		// A literal IP address resolves to itself with no network
		// round-trip; only genuine hostnames can fail here.
		return nil, fmt.Errorf("resolve listen host %q: %w", cfg.Host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve listen host %q: no addresses", cfg.Host)
	}

	var lastErr error
	for _, a := range addrs {
		ln, err := netutil.ListenTCP(a.IP, cfg.Port, cfg.Backlog)
		if err != nil {
			lastErr = err
			log.Infof("bind %s:%d failed: %v", a.IP, cfg.Port, err)
			continue
		}

		local := ln.Addr().(*net.TCPAddr)
		log.Infof("listening on %s", ln.Addr())

		return &Server{
			ln: ln,
			ctx: &ServerContext{
				BoundAddr:  local.IP,
				BoundPort:  local.Port,
				KeepAlive:  cfg.KeepAlive(),
				DNSTimeout: cfg.DNSTimeout(),
				BufferSize: cfg.SessionBufferBytes,
			},
			log: log,
		}, nil
	}

	return nil, fmt.Errorf("bind %q:%d: all candidates exhausted: %w", cfg.Host, cfg.Port, lastErr)
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener is closed, creating a new
// Session per accepted connection. An accept error on one connection never
// tears down the listener.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Errorf("accept error: %v", err)
			continue
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(s.ctx.KeepAlive)
		}

		sess := session.New(conn, session.Context{
			BoundAddr:  s.ctx.BoundAddr,
			BoundPort:  s.ctx.BoundPort,
			KeepAlive:  s.ctx.KeepAlive,
			DNSTimeout: s.ctx.DNSTimeout,
			BufferSize: s.ctx.BufferSize,
		})
		go sess.Run()
	}
}

// Close closes the listening socket, causing Serve to return.
func (s *Server) Close() error {
	return s.ln.Close()
}
