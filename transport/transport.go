package transport

import (
	"fmt"

	"github.com/nczempin/simple-http/errors"
)

// Conn is one accepted, bidirectional byte stream
type Conn interface {
	// Read receives data from the peer.
	// Returns the number of bytes read or an error; a peer that has
	// gone away yields a ConnectionClosed transport error.
	Read(buf []byte) (int, error)

	// Write sends all of buf to the peer or returns an error.
	Write(buf []byte) (int, error)

	// CloseWrite shuts down the sending side so the peer sees end of
	// stream while Read keeps working.
	CloseWrite() error

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// Listener hands out accepted connections
type Listener interface {
	// Accept blocks until a connection arrives. After Close it returns
	// a ListenerClosed transport error.
	Accept() (Conn, error)

	// Close stops the listener and unblocks a pending Accept.
	Close() error

	// Addr returns the bound address, with the real port when 0 was
	// requested.
	Addr() string
}

// Kind selects the I/O backend for a listener
type Kind string

const (
	// KindNet uses the Go runtime netpoller
	KindNet Kind = "net"
	// KindIouring uses one shared iceber/iouring-go ring for all conns
	KindIouring Kind = "iouring"
	// KindGoUring gives each conn its own godzie44/go-uring ring
	KindGoUring Kind = "gouring"
)

// Kinds lists every supported backend
var Kinds = []Kind{KindNet, KindIouring, KindGoUring}

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errors.NewInvalidArgumentError(fmt.Sprintf("unknown transport %q (want one of %v)", s, Kinds))
}

// Listen binds a listener of the given kind. The io_uring kinds support
// the tcp and unix networks.
func Listen(kind Kind, network, addr string) (Listener, error) {
	switch kind {
	case KindNet:
		ln, err := ListenNet(network, addr)
		if err != nil {
			return nil, err
		}
		return ln, nil
	case KindIouring, KindGoUring:
		if network != "tcp" && network != "unix" {
			return nil, errors.NewInvalidArgumentError(fmt.Sprintf("transport %s does not support network %q", kind, network))
		}
		if kind == KindIouring {
			ln, err := ListenUring(network, addr)
			if err != nil {
				return nil, err
			}
			return ln, nil
		}
		ln, err := ListenUringV2(network, addr)
		if err != nil {
			return nil, err
		}
		return ln, nil
	default:
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("unknown transport %q", kind))
	}
}
