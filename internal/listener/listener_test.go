package listener

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ealireza/socks5proxy/internal/config"
	"github.com/ealireza/socks5proxy/internal/socks5"
)

func TestListenServeAcceptsConnect(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen echo: %v", err)
	}
	defer echoLn.Close()
	go func() {
		for {
			conn, err := echoLn.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn); conn.Close() }()
		}
	}()
	echoAddr := echoLn.Addr().(*net.TCPAddr)

	cfg := &config.Config{
		Host:               "127.0.0.1",
		Port:               0, // ephemeral, since applyDefaults was never run
		Backlog:            16,
		SessionBufferBytes: 2048,
		KeepAliveSeconds:   60,
		DNSTimeoutSeconds:  2,
		LogLevel:           "error",
	}

	srv, err := Listen(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	go srv.Serve()

	boundPort := srv.Addr().(*net.TCPAddr).Port

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte{socks5.Version, 0x01, socks5.MethodNoAuth})
	greetReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, greetReply); err != nil {
		t.Fatalf("greet reply: %v", err)
	}

	req := []byte{socks5.Version, socks5.CmdConnect, 0x00, socks5.ATYPIPv4}
	req = append(req, echoAddr.IP.To4()...)
	req = append(req, byte(echoAddr.Port>>8), byte(echoAddr.Port))
	conn.Write(req)

	connReply := make([]byte, 10)
	if _, err := io.ReadFull(conn, connReply); err != nil {
		t.Fatalf("connect reply: %v", err)
	}
	want := socks5.AppendReply(nil, socks5.RepSuccess, net.ParseIP("127.0.0.1"), uint16(boundPort))
	if !bytes.Equal(connReply, want) {
		t.Fatalf("connect reply = % x, want % x", connReply, want)
	}

	conn.Write([]byte("ping"))
	echoed := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, echoed); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echoed) != "ping" {
		t.Fatalf("echoed = %q", echoed)
	}
}

func TestListenInvalidHostFails(t *testing.T) {
	cfg := &config.Config{
		Host:               "this.host.does.not.resolve.invalid",
		Port:               0,
		Backlog:            16,
		SessionBufferBytes: 2048,
		KeepAliveSeconds:   60,
		DNSTimeoutSeconds:  2,
	}
	if _, err := Listen(context.Background(), cfg); err == nil {
		t.Fatalf("expected error resolving bogus host")
	}
}
