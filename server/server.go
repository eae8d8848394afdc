// Package server runs the accept loop and drives one request/response
// cycle per connection.
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/nczempin/simple-http/errors"
	"github.com/nczempin/simple-http/fileserver"
	"github.com/nczempin/simple-http/transport"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server serves files from one document root. Connections share nothing
// but the read-only builder and the logger.
type Server struct {
	cfg     Config
	builder *fileserver.Builder
	log     zerolog.Logger

	// gate admits at most cfg.MaxConns connections at a time
	gate   *semaphore.Weighted
	wg     sync.WaitGroup
	nextID atomic.Uint64
}

// New validates cfg and prepares the document root.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	builder, err := fileserver.NewBuilder(cfg.Root)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		builder: builder,
		log:     logger,
		gate:    semaphore.NewWeighted(int64(cfg.MaxConns)),
	}, nil
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled. A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.Transport, s.cfg.Network, s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then closes
// ln and waits for in-flight connections to finish. Accept failures are
// logged and retried with backoff.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	defer s.wg.Wait()
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info().
		Str("addr", ln.Addr()).
		Str("root", s.builder.Root()).
		Str("transport", string(s.cfg.Transport)).
		Int("max_conns", s.cfg.MaxConns).
		Msg("listening")

	var backoff time.Duration
	for {
		// Wait for a free slot before taking the next connection off
		// the backlog
		if err := s.gate.Acquire(ctx, 1); err != nil {
			return nil
		}

		c, err := ln.Accept()
		if err != nil {
			s.gate.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.IsTransport(err, errors.TransportErrorListenerClosed) {
				return err
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.log.Error().Err(err).Dur("retry_in", backoff).Msg("accept failed")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		id := s.nextID.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.gate.Release(1)
			s.serveConn(c, id)
		}()
	}
}
