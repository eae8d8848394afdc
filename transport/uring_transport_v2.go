package transport

import (
	stderrors "errors"
	"sync"

	"github.com/godzie44/go-uring/uring"
	"golang.org/x/sys/unix"

	"github.com/nczempin/simple-http/errors"
)

// connRingEntries is the queue depth of each per-connection ring; a conn
// never has more than one operation in flight
const connRingEntries = 4

// UringListenerV2 implements Listener using godzie44/go-uring. Each
// accepted connection owns its ring because go-uring rings are not safe
// for concurrent use.
type UringListenerV2 struct {
	raw *rawListener
}

// ListenUringV2 binds a tcp or unix listener at addr backed by go-uring
// rings. A throwaway ring is created up front so an unsupported kernel fails at
// bind time instead of on the first connection.
func ListenUringV2(network, addr string) (*UringListenerV2, error) {
	probe, err := uring.New(connRingEntries)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}
	probe.Close()

	raw, err := listenRaw(network, addr)
	if err != nil {
		return nil, err
	}

	return &UringListenerV2{raw: raw}, nil
}

// Accept waits for the next connection and gives it a fresh ring
func (l *UringListenerV2) Accept() (Conn, error) {
	fd, remote, err := l.raw.accept()
	if err != nil {
		return nil, err
	}

	ring, err := uring.New(connRingEntries)
	if err != nil {
		unix.Close(fd)
		return nil, errors.NewTransportError(
			errors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	return &ringConn{ring: ring, fd: fd, remote: remote}, nil
}

// Close stops the listener
func (l *UringListenerV2) Close() error {
	return l.raw.close()
}

// Addr returns the bound address
func (l *UringListenerV2) Addr() string {
	return l.raw.addr
}

// ringConn owns its ring. Reads and writes come from one handler
// goroutine; Close may come from another while a Read is pending.
type ringConn struct {
	ring   *uring.Ring
	remote string

	mu       sync.Mutex
	fd       int
	closed   bool
	inflight bool
}

// acquire pins the fd and ring for one operation
func (c *ringConn) acquire() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, false
	}
	c.inflight = true
	return c.fd, true
}

func (c *ringConn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
	if c.closed {
		c.finish()
	}
}

// finish closes the socket and the ring. Called with mu held.
func (c *ringConn) finish() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	c.ring.Close()
	return err
}

// complete queues the SQE built for the conn's fd, submits it and waits
// for its completion
func (c *ringConn) complete(prep func(fd uintptr) uring.Operation, failure errors.TransportError) (int, error) {
	fd, open := c.acquire()
	if !open {
		return 0, errors.NewTransportError(
			errors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}
	defer c.release()

	if err := c.ring.QueueSQE(prep(uintptr(fd)), 0, 0); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to queue request",
			err,
		)
	}

	// Submit and wait
	if _, err := c.ring.Submit(); err != nil {
		return 0, errors.NewTransportError(
			errors.TransportErrorIoUringSubmit,
			"failed to submit request",
			err,
		)
	}

	cqe, err := c.ring.WaitCQEvents(1)
	if err != nil {
		return 0, errors.NewTransportError(
			failure,
			"failed to wait for completion",
			err,
		)
	}

	if err := cqe.Error(); err != nil {
		c.ring.SeenCQE(cqe)
		if stderrors.Is(err, unix.ECONNRESET) || stderrors.Is(err, unix.EPIPE) {
			return 0, errors.NewTransportError(
				errors.TransportErrorConnectionClosed,
				"connection reset by peer",
				err,
			)
		}
		return 0, errors.NewTransportError(
			failure,
			"operation failed",
			err,
		)
	}

	n := int(cqe.Res)
	c.ring.SeenCQE(cqe)
	return n, nil
}

// Write sends data over the connection using io_uring
func (c *ringConn) Write(buf []byte) (int, error) {
	totalWritten := 0
	for totalWritten < len(buf) {
		chunk := buf[totalWritten:]
		n, err := c.complete(func(fd uintptr) uring.Operation {
			return uring.Write(fd, chunk, 0)
		}, errors.TransportErrorSocketWriteFailure)
		if err != nil {
			return totalWritten, err
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
func (c *ringConn) Read(buf []byte) (int, error) {
	n, err := c.complete(func(fd uintptr) uring.Operation {
		return uring.Read(fd, buf, 0)
	}, errors.TransportErrorSocketReadFailure)
	if err != nil {
		return 0, err
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
func (c *ringConn) CloseWrite() error {
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

// Close closes the socket and releases the ring, or leaves that to a
// pending operation, which the shutdown wakes
func (c *ringConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	unix.Shutdown(c.fd, unix.SHUT_RDWR)
	if c.inflight {
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

func (c *ringConn) RemoteAddr() string {
	return c.remote
}
