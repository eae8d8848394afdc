package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/nczempin/simple-http/errors"
)

const (
	// DefaultMaxHeaderBytes bounds how much ReadRequest buffers while
	// looking for the end of the header block
	DefaultMaxHeaderBytes = 8 << 10

	readChunkSize = 1024
)

var (
	headerSeparator   = []byte("\r\n\r\n")
	lfHeaderSeparator = []byte("\n\n")
)

// headerEnd returns the index just past the blank line that terminates the
// header block, or -1 if it has not arrived yet.
func headerEnd(buf []byte) int {
	crlf := bytes.Index(buf, headerSeparator)
	lf := bytes.Index(buf, lfHeaderSeparator)
	switch {
	case crlf < 0 && lf < 0:
		return -1
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return crlf + len(headerSeparator)
	default:
		return lf + len(lfHeaderSeparator)
	}
}

// ReadRequest reads from r until the header terminator is seen. Bytes past
// the terminator that arrived in the same read are kept. A connection
// closed before the terminator yields a protocol error; any other read
// error is returned as is.
func ReadRequest(r io.Reader, maxHeaderBytes int) ([]byte, error) {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}

	buffer := make([]byte, 0, readChunkSize)
	readBuf := make([]byte, readChunkSize)

	for {
		n, err := r.Read(readBuf)
		if n > 0 {
			// Resume the search a few bytes back in case the
			// separator straddles two reads
			from := len(buffer) - len(headerSeparator)
			if from < 0 {
				from = 0
			}
			buffer = append(buffer, readBuf[:n]...)

			if end := headerEnd(buffer[from:]); end >= 0 {
				return buffer, nil
			}
			if len(buffer) > maxHeaderBytes {
				return nil, errors.NewProtocolError(
					errors.ProtocolErrorHeadersTooLarge,
					fmt.Sprintf("no header terminator within %d bytes", maxHeaderBytes),
				)
			}
		}

		if err != nil {
			if err == io.EOF || errors.IsTransport(err, errors.TransportErrorConnectionClosed) {
				if len(buffer) == 0 {
					return nil, errors.NewProtocolError(
						errors.ProtocolErrorEmptyRequest,
						"connection closed before any data",
					)
				}
				return nil, errors.NewProtocolError(
					errors.ProtocolErrorIncompleteRequest,
					"connection closed before end of headers",
				)
			}
			return nil, err
		}
	}
}

// ParseRequest turns one raw request into an HttpRequest. The request line
// must have exactly three whitespace-separated tokens. A header line
// without a colon rejects the whole request.
func ParseRequest(raw []byte) (*HttpRequest, error) {
	if len(raw) == 0 {
		return nil, errors.NewProtocolError(errors.ProtocolErrorEmptyRequest, "empty input")
	}

	end := headerEnd(raw)
	if end < 0 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorIncompleteRequest,
			"header block is not terminated",
		)
	}

	lines := strings.Split(string(raw[:end]), "\n")

	requestLine := strings.TrimSuffix(lines[0], "\r")
	tokens := strings.Fields(requestLine)
	if len(tokens) != 3 {
		return nil, errors.NewProtocolError(
			errors.ProtocolErrorInvalidRequestLine,
			fmt.Sprintf("expected 3 tokens in request line, got %d", len(tokens)),
		)
	}

	req := &HttpRequest{
		Method:      ParseMethod(tokens[0]),
		MethodName:  tokens[0],
		Target:      tokens[1],
		Version:     ParseVersion(tokens[2]),
		VersionName: tokens[2],
	}

	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if len(line) == 0 {
			break
		}

		header, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		req.Headers = append(req.Headers, header)
	}

	return req, nil
}

func parseHeaderLine(line string) (HttpHeader, error) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return HttpHeader{}, errors.NewProtocolError(
			errors.ProtocolErrorInvalidHeader,
			fmt.Sprintf("missing ':' in header line %q", line),
		)
	}

	key := line[:i]
	if key == "" || strings.ContainsAny(key, " \t") {
		return HttpHeader{}, errors.NewProtocolError(
			errors.ProtocolErrorInvalidHeader,
			fmt.Sprintf("invalid header name %q", key),
		)
	}

	return HttpHeader{
		Key:   key,
		Value: strings.TrimSpace(line[i+1:]),
	}, nil
}
