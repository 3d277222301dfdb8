package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func startProxy(t *testing.T) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// startEcho runs a TCP server that echoes everything back, prefixed once
// with "echo:".
func startEcho(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.WriteString(c, "echo:")
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()
	return ln
}

func dialProxy(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnectTunnelRelaysBothWays(t *testing.T) {
	echo := startEcho(t)
	srv := startProxy(t)
	conn := dialProxy(t, srv)

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", echo.Addr(), echo.Addr())

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.Contains(status, "200 Connection Established") {
		t.Fatalf("status = %q, want 200 Connection Established", status)
	}
	// Blank line ends the proxy's response.
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read blank line: %v", err)
	}

	if _, err := io.WriteString(conn, "hello tunnel"); err != nil {
		t.Fatalf("write through tunnel: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len("echo:hello tunnel"))
	if _, err := io.ReadFull(reader, buf); err != nil {
		t.Fatalf("read echoed bytes: %v", err)
	}
	if string(buf) != "echo:hello tunnel" {
		t.Errorf("tunneled bytes = %q, want echo:hello tunnel", buf)
	}
}

func TestConnectUnreachableTargetReturns502(t *testing.T) {
	// Grab a port that is guaranteed closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := ln.Addr().String()
	_ = ln.Close()

	srv := startProxy(t)
	conn := dialProxy(t, srv)

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", deadAddr, deadAddr)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.Contains(status, "502 Bad Gateway") {
		t.Errorf("status = %q, want 502 Bad Gateway", status)
	}
}

func TestPlainRequestGetsStubResponse(t *testing.T) {
	srv := startProxy(t)
	conn := dialProxy(t, srv)

	fmt.Fprint(conn, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp := string(data)
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("response = %q, want 200 stub", resp)
	}
	if !strings.Contains(resp, "Proxy handled GET request") {
		t.Errorf("response body missing stub text: %q", resp)
	}
}

func TestMalformedRequestLineClosesConnection(t *testing.T) {
	srv := startProxy(t)
	conn := dialProxy(t, srv)

	fmt.Fprint(conn, "GARBAGE\r\n")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Errorf("Read() error = %v, want EOF", err)
	}
}

func TestCloseStopsServe(t *testing.T) {
	srv, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	time.Sleep(50 * time.Millisecond)
	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() after Close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after Close")
	}
}
