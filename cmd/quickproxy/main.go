// Command quickproxy is a minimal, dependency-light CONNECT tunnel
// that exercises internal/codec and internal/hostport directly,
// without the full access/config/metrics stack cmd/proxy wires up.
// It is built on the shared HTTP/1.x codec instead of net/http so it
// decodes the CONNECT line the same way the full engine does.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/relaywire/proxy/internal/codec"
	"github.com/relaywire/proxy/internal/domain"
	"github.com/relaywire/proxy/internal/hostport"
)

const (
	defaultListenAddr = ":10080"
	maxLineLen        = 10240
	maxBodyLength     = 4_096_000
)

func main() {
	listener, err := net.Listen("tcp", defaultListenAddr)
	if err != nil {
		fmt.Printf("failed to start server: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()

	fmt.Printf("quickproxy listening on %s\n", defaultListenAddr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			fmt.Printf("error accepting connection: %v\n", err)
			continue
		}
		go func() {
			if err := HandleConnection(conn); err != nil {
				fmt.Printf("connection error: %v\n", err)
			}
		}()
	}
}

// HandleConnection decodes the first request on conn, requires it to
// be a CONNECT, and tunnels bytes to the parsed target until either
// side closes. conn is always closed on return.
func HandleConnection(conn net.Conn) error {
	defer conn.Close()

	req, err := readOneRequest(conn)
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}

	if req.Method != domain.MethodConnect {
		writeResponse(conn, 405, "Method Not Allowed")
		return fmt.Errorf("unsupported method: %s", req.Method)
	}

	target, err := hostport.ParseConnectTarget(req.Target)
	if err != nil {
		writeResponse(conn, 400, "Bad Request")
		return fmt.Errorf("invalid CONNECT target %q: %w", req.Target, err)
	}

	serverConn, err := net.Dial("tcp", target.String())
	if err != nil {
		writeResponse(conn, 502, "Bad Gateway")
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer serverConn.Close()

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return fmt.Errorf("failed to write connection established response: %w", err)
	}

	pump(conn, serverConn)
	return nil
}

func readOneRequest(conn net.Conn) (*domain.Request, error) {
	c := codec.NewRequestCodec(maxLineLen, maxBodyLength)
	buf := make([]byte, 4096)
	for {
		req, ok, err := c.DecodeRequest()
		if err != nil {
			return nil, err
		}
		if ok {
			return req, nil
		}
		n, rerr := conn.Read(buf)
		if n > 0 {
			c.Feed(buf[:n])
			continue
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

func writeResponse(conn net.Conn, statusCode int, reason string) {
	resp := &domain.Response{
		Message:      domain.Message{ProtocolVersion: "HTTP/1.1", Headers: domain.NewHeaders()},
		StatusCode:   statusCode,
		ReasonPhrase: reason,
	}
	resp.Headers.Set("Connection", "close")
	conn.Write(codec.EncodeResponse(resp))
}

func pump(clientConn, serverConn net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		io.Copy(serverConn, clientConn)
		if tc, ok := serverConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	go func() {
		defer wg.Done()
		io.Copy(clientConn, serverConn)
		if tc, ok := clientConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	wg.Wait()
}
