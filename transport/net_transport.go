package transport

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/nczempin/simple-http/errors"
)

// NetListener implements Listener on top of net.Listener, for tcp and
// unix sockets
type NetListener struct {
	ln net.Listener
}

// ListenNet binds network ("tcp" or "unix") at addr. For unix sockets a
// stale socket file left behind by a previous run is removed first.
func ListenNet(network, addr string) (*NetListener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	case "unix":
		if info, err := os.Lstat(addr); err == nil && info.Mode()&os.ModeSocket != 0 {
			os.Remove(addr)
		}
	default:
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("unsupported network %q", network))
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketBindFailure,
			fmt.Sprintf("failed to listen on %s %s", network, addr),
			err,
		)
	}

	return &NetListener{ln: ln}, nil
}

// Accept waits for the next connection
func (l *NetListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if stderrors.Is(err, net.ErrClosed) {
			return nil, errors.NewTransportError(errors.TransportErrorListenerClosed, "listener closed", err)
		}
		return nil, errors.NewTransportError(errors.TransportErrorSocketAcceptFailure, "accept failed", err)
	}

	// Set TCP_NODELAY; the whole response goes out in one write anyway
	if tcpConn, ok := c.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	return &netConn{conn: c}, nil
}

// Close stops the listener
func (l *NetListener) Close() error {
	if err := l.ln.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		return errors.NewTransportError(errors.TransportErrorListenerClosed, "failed to close listener", err)
	}
	return nil
}

// Addr returns the bound address
func (l *NetListener) Addr() string {
	return l.ln.Addr().String()
}

// netConn classifies net.Conn errors into transport errors
type netConn struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *netConn) Read(buf []byte) (int, error) {
	n, err := c.conn.Read(buf)
	if err != nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, syscall.ECONNRESET) {
			return n, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", err)
		}
		return n, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}
	return n, nil
}

func (c *netConn) Write(buf []byte) (int, error) {
	n, err := c.conn.Write(buf)
	if err != nil {
		// Check for broken pipe or connection reset
		if stderrors.Is(err, syscall.EPIPE) || stderrors.Is(err, syscall.ECONNRESET) {
			return n, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed during write", err)
		}
		return n, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write failed", err)
	}
	return n, nil
}

func (c *netConn) CloseWrite() error {
	cw, ok := c.conn.(interface{ CloseWrite() error })
	if !ok {
		return nil
	}
	if err := cw.CloseWrite(); err != nil {
		return errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "failed to shut down write side", err)
	}
	return nil
}

func (c *netConn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.closeErr = errors.NewTransportError(errors.TransportErrorConnectionClosed, "failed to close socket", err)
		}
	})
	return c.closeErr
}

func (c *netConn) RemoteAddr() string {
	addr := c.conn.RemoteAddr()
	if addr == nil || addr.String() == "" {
		return "@"
	}
	return addr.String()
}
