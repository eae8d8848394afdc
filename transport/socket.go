package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nczempin/simple-http/errors"
)

const listenBacklog = 128

// rawListener is a blocking listening socket owned outside the Go
// netpoller, so accepted fds can be handed to io_uring.
type rawListener struct {
	fd   int
	addr string
	// path is the socket file of a unix listener, removed on close
	path      string
	closeOnce sync.Once
}

func listenRaw(network, addr string) (*rawListener, error) {
	sa, domain, err := rawSockaddr(network, addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to create socket",
			err,
		)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketCreateFailure,
			"failed to set SO_REUSEADDR",
			err,
		)
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketBindFailure,
			fmt.Sprintf("failed to bind %s", addr),
			err,
		)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, errors.NewTransportError(
			errors.TransportErrorSocketListenFailure,
			fmt.Sprintf("failed to listen on %s", addr),
			err,
		)
	}

	l := &rawListener{fd: fd, addr: addr}
	if domain == unix.AF_UNIX {
		l.path = addr
	} else if bound, err := unix.Getsockname(fd); err == nil {
		l.addr = sockaddrString(bound)
	}
	return l, nil
}

// rawSockaddr resolves addr for network "tcp" or "unix". A stale unix
// socket file is removed so the bind can succeed.
func rawSockaddr(network, addr string) (unix.Sockaddr, int, error) {
	if network == "unix" {
		if info, err := os.Lstat(addr); err == nil && info.Mode()&os.ModeSocket != 0 {
			os.Remove(addr)
		}
		return &unix.SockaddrUnix{Name: addr}, unix.AF_UNIX, nil
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, errors.NewTransportError(
			errors.TransportErrorSocketBindFailure,
			fmt.Sprintf("failed to resolve %s", addr),
			err,
		)
	}

	// Convert to unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		return sa4, unix.AF_INET, nil
	}
	sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa6.Addr[:], tcpAddr.IP.To16())
	return sa6, unix.AF_INET6, nil
}

// accept blocks until a connection arrives and returns its fd, with
// TCP_NODELAY set for tcp.
func (l *rawListener) accept() (int, string, error) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			// shutdown(2) from close makes a blocked accept fail with
			// EINVAL; a closed fd gives EBADF
			if err == unix.EINVAL || err == unix.EBADF {
				return -1, "", errors.NewTransportError(errors.TransportErrorListenerClosed, "listener closed", err)
			}
			return -1, "", errors.NewTransportError(errors.TransportErrorSocketAcceptFailure, "accept failed", err)
		}

		// Fails harmlessly on unix sockets
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return nfd, sockaddrString(sa), nil
	}
}

func (l *rawListener) close() error {
	var err error
	l.closeOnce.Do(func() {
		unix.Shutdown(l.fd, unix.SHUT_RDWR)
		if cerr := unix.Close(l.fd); cerr != nil {
			err = errors.NewTransportError(errors.TransportErrorListenerClosed, "failed to close listener", cerr)
		}
		if l.path != "" {
			os.Remove(l.path)
		}
	})
	return err
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrUnix:
		if sa.Name == "" {
			return "@"
		}
		return sa.Name
	default:
		return "?"
	}
}
