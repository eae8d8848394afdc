package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nczempin/simple-http/client"
	"github.com/nczempin/simple-http/errors"
	"github.com/nczempin/simple-http/protocol"
	"github.com/nczempin/simple-http/transport"
)

// writeDocRoot creates a temporary document root holding files
func writeDocRoot(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return root
}

// setupServer starts a server on an ephemeral port and returns a client
// for it. The server is stopped, and its connections drained, on cleanup.
func setupServer(t *testing.T, cfg Config) *client.HttpClient {
	t.Helper()

	srv, err := New(cfg, zerolog.New(zerolog.NewTestWriter(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ln, err := transport.Listen(cfg.Transport, cfg.Network, cfg.Addr)
	if err != nil {
		if errors.IsTransport(err, errors.TransportErrorIoUringInit) {
			t.Skipf("io_uring unavailable: %v", err)
		}
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})

	return client.NewHttpClient(cfg.Network, ln.Addr())
}

func testConfig(root string) Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Root = root
	return cfg
}

func TestServer_ExistingFile(t *testing.T) {
	c := setupServer(t, testConfig(writeDocRoot(t, map[string]string{"index.html": "hi"})))

	raw, err := c.Exchange([]byte("GET /index.html HTTP/1.1\r\n\r\n"))
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	want := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: 2\r\n" +
		"Accept-Ranges: bytes\r\n" +
		"X-Package-Name: simple-http\r\n" +
		"X-Package-Version: 0.1.0\r\n" +
		"\r\n" +
		"hi"
	if string(raw) != want {
		t.Errorf("Expected:\n%q\ngot:\n%q", want, raw)
	}
}

func TestServer_MissingFile(t *testing.T) {
	c := setupServer(t, testConfig(writeDocRoot(t, nil)))

	resp, err := c.Get("/missing.txt")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}

	if !bytes.HasPrefix(resp.Raw, []byte("HTTP/1.1 404 Not Found\r\n")) {
		t.Errorf("Unexpected status line in %q", resp.Raw)
	}
	if cl, _ := resp.Header("Content-Length"); cl != strconv.Itoa(len(protocol.NotFoundBody)) {
		t.Errorf("Expected Content-Length %d, got %s", len(protocol.NotFoundBody), cl)
	}
	if ar, _ := resp.Header("Accept-Ranges"); ar != "none" {
		t.Errorf("Expected Accept-Ranges none, got %q", ar)
	}
	if string(resp.Body) != protocol.NotFoundBody {
		t.Errorf("Unexpected body %q", resp.Body)
	}
}

func TestServer_MalformedRequestGets400(t *testing.T) {
	c := setupServer(t, testConfig(writeDocRoot(t, nil)))

	for _, raw := range []string{
		"GARBAGE\r\n\r\n",
		"GET / HTTP/1.1 extra\r\n\r\n",
		"GET / HTTP/1.1\r\nNoColon\r\n\r\n",
		"GET / HTTP/1.1\r\nHost: x\r\n",
	} {
		got, err := c.Exchange([]byte(raw))
		if err != nil {
			t.Fatalf("Exchange(%q) failed: %v", raw, err)
		}
		resp, err := client.ParseResponse(got)
		if err != nil {
			t.Fatalf("ParseResponse for %q failed: %v", raw, err)
		}
		if resp.StatusCode != 400 || string(resp.Body) != protocol.BadRequestBody {
			t.Errorf("%q: expected 400 page, got %d %q", raw, resp.StatusCode, resp.Body)
		}
	}
}

func TestServer_EmptyRequestGetsNothing(t *testing.T) {
	c := setupServer(t, testConfig(writeDocRoot(t, nil)))

	raw, err := c.Exchange(nil)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("Expected no bytes, got %q", raw)
	}
}

func TestServer_OversizedHeaders(t *testing.T) {
	cfg := testConfig(writeDocRoot(t, nil))
	cfg.MaxHeaderBytes = 1024
	c := setupServer(t, cfg)

	raw := "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 1500) + "\r\n\r\n"
	got, err := c.Exchange([]byte(raw))
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	resp, err := client.ParseResponse(got)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_UnreadRequestDataEndsCleanly(t *testing.T) {
	c := setupServer(t, testConfig(writeDocRoot(t, map[string]string{"index.html": "hi"})))

	tests := []struct {
		name       string
		raw        string
		wantStatus int
		wantBody   string
	}{
		{
			"64 KiB header",
			"GET /index.html HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 64<<10) + "\r\n\r\n",
			400,
			protocol.BadRequestBody,
		},
		{
			"256 KiB body",
			"POST /index.html HTTP/1.1\r\nContent-Length: 262144\r\n\r\n" + strings.Repeat("b", 256<<10),
			200,
			"hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A reset would surface as a read error here
			got, err := c.Exchange([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Exchange failed: %v", err)
			}
			resp, err := client.ParseResponse(got)
			if err != nil {
				t.Fatalf("ParseResponse failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus || string(resp.Body) != tt.wantBody {
				t.Errorf("Expected %d %q, got %d %q", tt.wantStatus, tt.wantBody, resp.StatusCode, resp.Body)
			}
		})
	}
}

func TestServer_RangeRequest(t *testing.T) {
	c := setupServer(t, testConfig(writeDocRoot(t, map[string]string{"digits.txt": "0123456789"})))

	resp, err := c.Get("/digits.txt", protocol.HttpHeader{Key: "Range", Value: "bytes=3-5"})
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != 206 || string(resp.Body) != "345" {
		t.Errorf("Expected 206 with %q, got %d with %q", "345", resp.StatusCode, resp.Body)
	}
	if cr, _ := resp.Header("Content-Range"); cr != "bytes 3-5/10" {
		t.Errorf("Expected Content-Range %q, got %q", "bytes 3-5/10", cr)
	}

	resp, err = c.Get("/digits.txt", protocol.HttpHeader{Key: "Range", Value: "bytes=20-"})
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != 416 || len(resp.Body) != 0 {
		t.Errorf("Expected empty 416, got %d with %q", resp.StatusCode, resp.Body)
	}
}

func TestServer_TraversalIsNotFound(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "www")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("Failed to create root: %v", err)
	}
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatalf("Failed to write secret: %v", err)
	}

	c := setupServer(t, testConfig(root))

	for _, target := range []string{"/../secret.txt", "/%2e%2e/secret.txt", "../secret.txt"} {
		resp, err := c.Get(target)
		if err != nil {
			t.Fatalf("GET %s failed: %v", target, err)
		}
		if resp.StatusCode != 404 {
			t.Errorf("GET %s: expected 404, got %d with %q", target, resp.StatusCode, resp.Body)
		}
	}
}

func TestServer_InternalErrorGets500(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := writeDocRoot(t, nil)
	if err := os.WriteFile(filepath.Join(root, "locked.txt"), []byte("x"), 0o000); err != nil {
		t.Fatalf("Failed to write locked file: %v", err)
	}
	c := setupServer(t, testConfig(root))

	resp, err := c.Get("/locked.txt")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != 500 || string(resp.Body) != protocol.InternalServerErrorBody {
		t.Errorf("Expected 500 page, got %d %q", resp.StatusCode, resp.Body)
	}
}

func TestServer_ConcurrentClientsGetTheirOwnFiles(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 16; i++ {
		files[fmt.Sprintf("file%d.txt", i)] = strings.Repeat(strconv.Itoa(i%10), 1000+i*311)
	}
	c := setupServer(t, testConfig(writeDocRoot(t, files)))

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for name, content := range files {
			wg.Add(1)
			go func(name, content string) {
				defer wg.Done()
				resp, err := c.Get("/" + name)
				if err != nil {
					t.Errorf("GET %s failed: %v", name, err)
					return
				}
				if resp.StatusCode != 200 || string(resp.Body) != content {
					t.Errorf("GET %s: got status %d and %d bytes, want %d bytes", name, resp.StatusCode, len(resp.Body), len(content))
				}
			}(name, content)
		}
	}
	wg.Wait()
}

func TestServer_AdmissionGate(t *testing.T) {
	cfg := testConfig(writeDocRoot(t, map[string]string{"a.txt": "A", "b.txt": "B"}))
	cfg.MaxConns = 1
	c := setupServer(t, cfg)

	addr := c.Addr()

	// First connection takes the only slot and sends nothing yet
	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer first.Close()

	// Give the server time to accept it
	time.Sleep(100 * time.Millisecond)

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer second.Close()
	if _, err := second.Write([]byte("GET /b.txt HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1024)
	if n, err := second.Read(buf); err == nil {
		t.Fatalf("Second connection was served while the slot was taken: %q", buf[:n])
	}

	if _, err := first.Write([]byte("GET /a.txt HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := readAll(first)
	if err != nil {
		t.Fatalf("Reading first response failed: %v", err)
	}
	if !strings.HasSuffix(resp, "\r\n\r\nA") {
		t.Errorf("Unexpected first response %q", resp)
	}

	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err = readAll(second)
	if err != nil {
		t.Fatalf("Reading second response failed: %v", err)
	}
	if !strings.HasSuffix(resp, "\r\n\r\nB") {
		t.Errorf("Unexpected second response %q", resp)
	}
}

func readAll(conn net.Conn) (string, error) {
	var out bytes.Buffer
	_, err := out.ReadFrom(conn)
	return out.String(), err
}

func TestServer_Transports(t *testing.T) {
	for _, kind := range transport.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			cfg := testConfig(writeDocRoot(t, map[string]string{"index.html": "hi"}))
			cfg.Transport = kind
			c := setupServer(t, cfg)

			resp, err := c.Get("/index.html")
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			if resp.StatusCode != 200 || string(resp.Body) != "hi" {
				t.Errorf("Expected 200 with %q, got %d with %q", "hi", resp.StatusCode, resp.Body)
			}

			resp, err = c.Get("/missing")
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			if resp.StatusCode != 404 {
				t.Errorf("Expected 404, got %d", resp.StatusCode)
			}
		})
	}
}

func TestServer_UnixSocket(t *testing.T) {
	for _, kind := range transport.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			cfg := testConfig(writeDocRoot(t, map[string]string{"index.html": "over unix"}))
			cfg.Network = "unix"
			cfg.Addr = filepath.Join(t.TempDir(), "simple-http.sock")
			cfg.Transport = kind
			c := setupServer(t, cfg)

			resp, err := c.Get("/index.html")
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			if string(resp.Body) != "over unix" {
				t.Errorf("Unexpected body %q", resp.Body)
			}
		})
	}
}

func TestServer_ShutdownStopsAccepting(t *testing.T) {
	cfg := testConfig(writeDocRoot(t, nil))
	srv, err := New(cfg, zerolog.New(zerolog.NewTestWriter(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ln, err := transport.Listen(cfg.Transport, cfg.Network, cfg.Addr)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := ln.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil after cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Error("Expected dial to fail after shutdown")
	}
}

func TestServer_ListenAndServeBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	defer taken.Close()

	cfg := testConfig(writeDocRoot(t, nil))
	cfg.Addr = taken.Addr().String()
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = srv.ListenAndServe(context.Background())
	if !errors.IsTransport(err, errors.TransportErrorSocketBindFailure) {
		t.Errorf("Expected SocketBindFailure, got %v", err)
	}
}

func TestNew_InvalidRoot(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := New(cfg, zerolog.Nop()); !errors.IsType(err, errors.ErrorInvalidArgument) {
		t.Errorf("Expected invalid argument, got %v", err)
	}
}
