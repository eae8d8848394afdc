package server

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/nczempin/simple-http/errors"
	"github.com/nczempin/simple-http/protocol"
	"github.com/nczempin/simple-http/transport"
)

// serveConn runs exactly one read, parse, build, serialize, write cycle
// and closes c.
func (s *Server) serveConn(c transport.Conn, id uint64) {
	log := s.log.With().Uint64("conn", id).Str("remote", c.RemoteAddr()).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic recovered")
		}
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Msg("close failed")
		}
	}()

	log.Debug().Msg("accepted")

	req, resp := s.respond(c, log)
	if resp == nil {
		return
	}

	if _, err := c.Write(protocol.Serialize(resp)); err != nil {
		log.Error().Err(err).Msg("write failed")
		return
	}

	event := log.Info()
	if req != nil {
		event = event.Str("method", req.MethodName).Str("target", req.Target)
	}
	event.Int("status", resp.Status.Code()).Int("bytes", resp.ContentLength).Msg("served")

	linger(c, log)
}

const (
	// drainLimit bounds how much unread request data is discarded
	// before closing
	drainLimit = 1 << 20
	// drainTimeout bounds how long a peer may keep its side open after
	// the response
	drainTimeout = 2 * time.Second
)

// linger sends FIN and discards whatever the peer still sends until it
// closes. Closing with unread data pending resets the connection.
func linger(c transport.Conn, log zerolog.Logger) {
	if err := c.CloseWrite(); err != nil {
		log.Debug().Err(err).Msg("half-close failed")
		return
	}

	timer := time.AfterFunc(drainTimeout, func() { c.Close() })
	defer timer.Stop()

	n, _ := io.CopyN(io.Discard, c, drainLimit)
	if n > 0 {
		log.Debug().Int64("bytes", n).Msg("discarded unread request data")
	}
}

// respond reads and answers one request. A nil response means nothing
// should be written: the peer sent nothing or the transport failed.
func (s *Server) respond(c transport.Conn, log zerolog.Logger) (*protocol.HttpRequest, *protocol.HttpResponse) {
	raw, err := protocol.ReadRequest(c, s.cfg.MaxHeaderBytes)
	if err != nil {
		switch {
		case errors.IsProtocol(err, errors.ProtocolErrorEmptyRequest):
			log.Debug().Msg("closed without a request")
			return nil, nil
		case errors.IsType(err, errors.ErrorProtocol):
			log.Warn().Err(err).Msg("bad request")
			return nil, protocol.NewBadRequestResponse()
		default:
			log.Error().Err(err).Msg("read failed")
			return nil, nil
		}
	}

	req, err := protocol.ParseRequest(raw)
	if err != nil {
		log.Warn().Err(err).Msg("bad request")
		return nil, protocol.NewBadRequestResponse()
	}

	resp, err := s.builder.Build(req)
	if err != nil {
		log.Error().Err(err).Str("target", req.Target).Msg("build failed")
		return req, protocol.NewInternalServerErrorResponse()
	}

	return req, resp
}
