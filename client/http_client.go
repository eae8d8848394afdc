// Package client is a one-shot HTTP/1 client for probing the server: it
// sends a single request and reads until the server closes.
package client

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nczempin/simple-http/errors"
	"github.com/nczempin/simple-http/protocol"
)

var headerSeparator = []byte("\r\n\r\n")

// Response is a parsed server response
type Response struct {
	StatusCode    int
	StatusMessage string
	Headers       []protocol.HttpHeader
	Body          []byte
	ContentLength int
	// Raw holds every byte the server sent
	Raw []byte
}

// Header returns the first header matching name case-insensitively
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HttpClient sends one request per connection to a fixed address
type HttpClient struct {
	network string
	addr    string
	timeout time.Duration
}

// NewHttpClient creates a client for network ("tcp" or "unix") and addr
func NewHttpClient(network, addr string) *HttpClient {
	return &HttpClient{
		network: network,
		addr:    addr,
		timeout: 10 * time.Second,
	}
}

// Addr returns the address the client dials
func (c *HttpClient) Addr() string {
	return c.addr
}

// Get performs a GET request for target and parses the response
func (c *HttpClient) Get(target string, headers ...protocol.HttpHeader) (*Response, error) {
	raw, err := c.Exchange(buildRequest("GET", target, headers))
	if err != nil {
		return nil, err
	}
	return ParseResponse(raw)
}

// Exchange writes raw as-is, half-closes the write side when possible, and
// returns everything the server sends before closing.
func (c *HttpClient) Exchange(raw []byte) ([]byte, error) {
	conn, err := net.DialTimeout(c.network, c.addr, c.timeout)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketConnectFailure,
			fmt.Sprintf("failed to connect to %s", c.addr),
			err,
		)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if len(raw) > 0 {
		if _, err := conn.Write(raw); err != nil {
			return nil, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write failed", err)
		}
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return resp, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}
	return resp, nil
}

// buildRequest formats an HTTP request line and headers
func buildRequest(method, target string, headers []protocol.HttpHeader) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", method, target)
	for _, header := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", header.Key, header.Value)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// ParseResponse parses a complete response. The body is cut to
// Content-Length when present; a shorter body is an error.
func ParseResponse(raw []byte) (*Response, error) {
	pos := bytes.Index(raw, headerSeparator)
	if pos < 0 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorIncompleteResponse,
			fmt.Sprintf("no header terminator in %d bytes", len(raw)),
		)
	}
	headerSize := pos + len(headerSeparator)

	// Split into status line and rest of headers
	parts := bytes.SplitN(raw[:pos], []byte("\r\n"), 2)

	// Parse status line: "HTTP/1.1 200 OK"
	statusParts := bytes.SplitN(parts[0], []byte(" "), 3)
	if len(statusParts) < 2 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorInvalidStatusLine,
			"invalid status line format",
		)
	}

	statusCode, err := strconv.Atoi(string(statusParts[1]))
	if err != nil {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorInvalidStatusLine,
			fmt.Sprintf("invalid status code: %s", statusParts[1]),
		)
	}

	resp := &Response{
		StatusCode:    statusCode,
		ContentLength: -1,
		Raw:           raw,
	}
	if len(statusParts) >= 3 {
		resp.StatusMessage = string(statusParts[2])
	}

	if len(parts) > 1 {
		for _, line := range bytes.Split(parts[1], []byte("\r\n")) {
			headerParts := bytes.SplitN(line, []byte(":"), 2)
			if len(headerParts) != 2 {
				return nil, errors.NewProtocolError(
					errors.ProtocolErrorInvalidHeader,
					fmt.Sprintf("invalid header line %q", line),
				)
			}
			header := protocol.HttpHeader{
				Key:   string(headerParts[0]),
				Value: strings.TrimSpace(string(headerParts[1])),
			}
			resp.Headers = append(resp.Headers, header)

			if strings.EqualFold(header.Key, "Content-Length") {
				if n, err := strconv.Atoi(header.Value); err == nil {
					resp.ContentLength = n
				}
			}
		}
	}

	body := raw[headerSize:]
	if resp.ContentLength >= 0 {
		if len(body) < resp.ContentLength {
			return nil, errors.NewProtocolError(
				errors.ProtocolErrorIncompleteResponse,
				fmt.Sprintf("expected %d body bytes, got %d", resp.ContentLength, len(body)),
			)
		}
		body = body[:resp.ContentLength]
	}
	resp.Body = body

	return resp, nil
}
