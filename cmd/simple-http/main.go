package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nczempin/simple-http/protocol"
	"github.com/nczempin/simple-http/server"
	"github.com/nczempin/simple-http/transport"
)

const (
	helpTextAddr      = `Address to listen on: host:port for tcp, a socket path for unix.`
	helpTextNetwork   = `Network to listen on: tcp or unix.`
	helpTextRoot      = `Document root. Requests never resolve outside this directory.`
	helpTextTransport = `I/O backend: net, iouring (shared iceber/iouring-go ring) or gouring (per-connection godzie44/go-uring ring).`
	helpTextMaxConns  = `Maximum number of connections served at once.`
	helpTextMaxHeader = `Maximum size of the request line plus headers, in bytes.`
	helpTextLogLevel  = `Log level: trace, debug, info, warn, error.`
	helpTextLogFormat = `Log format: console or json.`
)

func main() {
	defaults := server.DefaultConfig()

	addr := flag.String("addr", defaults.Addr, helpTextAddr)
	network := flag.String("network", defaults.Network, helpTextNetwork)
	root := flag.String("root", defaults.Root, helpTextRoot)
	kind := flag.String("transport", string(defaults.Transport), helpTextTransport)
	maxConns := flag.Int("max-conns", defaults.MaxConns, helpTextMaxConns)
	maxHeader := flag.Int("max-header-bytes", defaults.MaxHeaderBytes, helpTextMaxHeader)
	logLevel := flag.String("log-level", "info", helpTextLogLevel)
	logFormat := flag.String("log-format", "console", helpTextLogFormat)
	flag.Parse()

	logger, err := newLogger(os.Stderr, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := server.Config{
		Network:        *network,
		Addr:           *addr,
		Root:           *root,
		Transport:      transport.Kind(*kind),
		MaxConns:       *maxConns,
		MaxHeaderBytes: *maxHeader,
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("package", protocol.PackageName).
		Str("version", protocol.PackageVersion).
		Msg("starting")

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Addr).Msg("server failed")
	}
	logger.Info().Msg("stopped")
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
