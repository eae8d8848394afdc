package server

import (
	"fmt"

	"github.com/nczempin/simple-http/errors"
	"github.com/nczempin/simple-http/protocol"
	"github.com/nczempin/simple-http/transport"
)

// Config holds everything the server needs at startup
type Config struct {
	// Network is "tcp" or "unix"
	Network string
	// Addr is host:port for tcp or a socket path for unix
	Addr string
	// Root is the document root; targets never resolve outside it
	Root string
	// Transport selects the I/O backend
	Transport transport.Kind
	// MaxConns caps connections being served at once
	MaxConns int
	// MaxHeaderBytes caps the request line plus headers
	MaxHeaderBytes int
}

// DefaultConfig returns the loopback defaults
func DefaultConfig() Config {
	return Config{
		Network:        "tcp",
		Addr:           "127.0.0.1:5500",
		Root:           ".",
		Transport:      transport.KindNet,
		MaxConns:       256,
		MaxHeaderBytes: protocol.DefaultMaxHeaderBytes,
	}
}

// Validate checks every field
func (c Config) Validate() error {
	switch c.Network {
	case "tcp", "unix":
	default:
		return errors.NewInvalidArgumentError(fmt.Sprintf("network must be tcp or unix, got %q", c.Network))
	}
	if c.Addr == "" {
		return errors.NewInvalidArgumentError("addr is empty")
	}
	if c.Root == "" {
		return errors.NewInvalidArgumentError("root is empty")
	}
	if _, err := transport.ParseKind(string(c.Transport)); err != nil {
		return err
	}
	if c.MaxConns < 1 {
		return errors.NewInvalidArgumentError(fmt.Sprintf("max conns must be at least 1, got %d", c.MaxConns))
	}
	if c.MaxHeaderBytes < 64 {
		return errors.NewInvalidArgumentError(fmt.Sprintf("max header bytes must be at least 64, got %d", c.MaxHeaderBytes))
	}
	return nil
}
