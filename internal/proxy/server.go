package proxy

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jspahr/packetlens/internal/metrics"
)

// dialTimeout bounds the upstream connect for a CONNECT tunnel.
const dialTimeout = 10 * time.Second

// Server accepts proxy connections and either tunnels HTTPS CONNECT requests
// or answers plain HTTP with a minimal placeholder. The non-CONNECT path is
// deliberately a stub, not a general forward proxy.
type Server struct {
	listener net.Listener

	mu     sync.Mutex
	closed bool
}

// Listen binds the server. The returned server is already accepting nothing;
// call Serve to start the accept loop.
func Listen(address string, port int) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, err
	}
	slog.Info("proxy server listening", "addr", ln.Addr().String())
	return &Server{listener: ln}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve runs the accept loop until Close. Each accepted connection is
// handled on its own goroutine so one slow or broken client never blocks
// acceptance of others.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		metrics.ProxyConnections.Inc()
		go s.handleConn(conn)
	}
}

// Close stops the accept loop.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	parts := strings.Fields(strings.TrimSpace(requestLine))
	if len(parts) < 2 {
		return
	}
	method, target := parts[0], parts[1]

	// The header block is consumed in both paths: for CONNECT the tunnel
	// must start at the first post-handshake byte, for plain HTTP the
	// request has to be drained before answering.
	if err := drainHeaders(reader); err != nil {
		return
	}

	if method == "CONNECT" {
		s.handleTunnel(conn, reader, target)
		return
	}

	slog.Info("proxy request", "method", method, "target", target, "remote", conn.RemoteAddr().String())
	body := fmt.Sprintf("Proxy handled %s request", method)
	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

// handleTunnel splices bytes bidirectionally between the client and the
// CONNECT target until either side closes. Tunneled bytes are opaque; no
// further parsing happens.
func (s *Server) handleTunnel(conn net.Conn, reader *bufio.Reader, target string) {
	slog.Info("CONNECT tunnel requested", "target", target, "remote", conn.RemoteAddr().String())

	upstream, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		slog.Error("tunnel target unreachable", "target", target, "error", err)
		fmt.Fprint(conn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		return
	}
	defer upstream.Close()

	if _, err := fmt.Fprint(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	metrics.ProxyTunnels.Inc()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		// reader may hold bytes the client sent ahead of the 200.
		_, _ = io.Copy(upstream, reader)
		closeWrite(upstream)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(conn, upstream)
		closeWrite(conn)
	}()
	wg.Wait()
	slog.Debug("tunnel closed", "target", target)
}

func drainHeaders(reader *bufio.Reader) error {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			return nil
		}
	}
}

func closeWrite(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		return
	}
	_ = conn.Close()
}
