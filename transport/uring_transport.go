package transport

import (
	stderrors "errors"
	"sync"

	"github.com/iceber/iouring-go"
	"golang.org/x/sys/unix"

	"github.com/nczempin/simple-http/errors"
)

// UringListener implements Listener with a blocking accept and a single
// iceber/iouring-go ring shared by every accepted connection for
// Read and Write
type UringListener struct {
	raw  *rawListener
	iour *iouring.IOURing

	// the ring outlives the listener until the last conn is released
	mu     sync.Mutex
	conns  int
	closed bool
}

// ListenUring binds a tcp or unix listener at addr backed by io_uring
func ListenUring(network, addr string) (*UringListener, error) {
	// Create io_uring instance with queue depth of 256; iouring-go
	// serializes submissions internally
	iour, err := iouring.New(256)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	raw, err := listenRaw(network, addr)
	if err != nil {
		iour.Close()
		return nil, err
	}

	return &UringListener{raw: raw, iour: iour}, nil
}

// Accept waits for the next connection. The accept itself is a blocking
// syscall; only the data path goes through the ring.
func (l *UringListener) Accept() (Conn, error) {
	fd, remote, err := l.raw.accept()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		unix.Close(fd)
		return nil, errors.NewTransportError(errors.TransportErrorListenerClosed, "listener closed", nil)
	}
	l.conns++

	return &uringConn{ln: l, iour: l.iour, fd: fd, remote: remote}, nil
}

// Close stops the listener. The ring is released once every accepted
// connection has been closed.
func (l *UringListener) Close() error {
	err := l.raw.close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		if l.conns == 0 {
			l.iour.Close()
		}
	}
	return err
}

func (l *UringListener) connDone() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns--
	if l.closed && l.conns == 0 {
		l.iour.Close()
	}
}

// Addr returns the bound address
func (l *UringListener) Addr() string {
	return l.raw.addr
}

type uringConn struct {
	ln     *UringListener
	iour   *iouring.IOURing
	remote string

	mu       sync.Mutex
	fd       int
	closed   bool
	inflight int
}

// acquire pins the fd for one ring operation; Close defers releasing it
// until every pinned operation has completed
func (c *uringConn) acquire() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, false
	}
	c.inflight++
	return c.fd, true
}

func (c *uringConn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if c.closed && c.inflight == 0 {
		c.finish()
	}
}

// finish closes the fd and drops the ring reference. Called with mu held.
func (c *uringConn) finish() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	c.ln.connDone()
	return err
}

// Write sends data over the connection using io_uring
func (c *uringConn) Write(buf []byte) (int, error) {
	fd, open := c.acquire()
	if !open {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}
	defer c.release()

	totalWritten := 0
	for totalWritten < len(buf) {
		ch := make(chan iouring.Result, 1)
		prepReq := iouring.Write(fd, buf[totalWritten:])
		if _, err := c.iour.SubmitRequest(prepReq, ch); err != nil {
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorIoUringSubmit,
				"failed to submit write request",
				err,
			)
		}

		result := <-ch
		n, err := result.ReturnInt()
		if err != nil {
			if stderrors.Is(err, unix.EPIPE) || stderrors.Is(err, unix.ECONNRESET) {
				return totalWritten, errors.NewTransportError(
					errors.TransportErrorConnectionClosed,
					"connection closed during write",
					err,
				)
			}
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorSocketWriteFailure,
				"write failed",
				err,
			)
		}

		if n <= 0 {
			return totalWritten, errors.NewTransportError(
				errors.TransportErrorConnectionClosed,
				"connection closed during write",
				nil,
			)
		}

		totalWritten += n
	}

	return totalWritten, nil
}

// Read receives data from the connection using io_uring
func (c *uringConn) Read(buf []byte) (int, error) {
	fd, open := c.acquire()
	if !open {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}
	defer c.release()

	ch := make(chan iouring.Result, 1)
	prepReq := iouring.Read(fd, buf)
	if _, err := c.iour.SubmitRequest(prepReq, ch); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit read request",
			err,
		)
	}

	result := <-ch
	n, err := result.ReturnInt()
	if err != nil {
		if stderrors.Is(err, unix.ECONNRESET) {
			return 0, errors.NewTransportError(
				errors.TransportErrorConnectionClosed,
				"connection reset by peer",
				err,
			)
		}
		return 0, errors.NewTransportError(
			errors.TransportErrorSocketReadFailure,
			"read failed",
			err,
		)
	}

	if n == 0 && len(buf) > 0 {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed by peer",
			nil,
		)
	}

	return n, nil
}

// CloseWrite sends FIN to the peer
func (c *uringConn) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil {
		return errors.NewTransportError(
			errors.TransportErrorSocketWriteFailure,
			"failed to shut down write side",
			err,
		)
	}
	return nil
}

// Close closes the connection. It may be called while a Read is pending
// in the ring: the shutdown wakes it, and the fd is released when it
// returns.
func (c *uringConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	unix.Shutdown(c.fd, unix.SHUT_RDWR)
	if c.inflight > 0 {
		return nil
	}
	if err := c.finish(); err != nil {
		return errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"failed to close socket",
			err,
		)
	}
	return nil
}

func (c *uringConn) RemoteAddr() string {
	return c.remote
}
