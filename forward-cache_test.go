package forwardcache

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forward-cache/forward-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func startProxy(t *testing.T, store cache.ObjectStore, maxObject int64) net.Addr {
	t.Helper()
	logger := zerolog.Nop()
	p := CreateProxy(Config{
		Cache:         store,
		MaxObjectSize: maxObject,
		DialTimeout:   time.Second,
		Logger:        &logger,
	})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go p.Serve(l)
	t.Cleanup(func() { p.Close() })
	return l.Addr()
}

// proxyRequest performs one raw request against the proxy and returns
// everything the proxy sent back before closing the connection.
func proxyRequest(t *testing.T, addr net.Addr, requestLine string, headers ...string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	fmt.Fprintf(conn, "%s\r\n", requestLine)
	for _, h := range headers {
		fmt.Fprintf(conn, "%s\r\n", h)
	}
	fmt.Fprintf(conn, "\r\n")

	response, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("reading proxy response: %v", err)
	}
	return string(response)
}

func TestServesResponseFromOrigin(t *testing.T) {
	var handleCount int
	r := chi.NewRouter()
	r.Get("/hello", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("hello world"))
	})
	origin := httptest.NewServer(r)
	defer origin.Close()

	addr := startProxy(t, cache.NewMemoryStore(0, 0), 0)
	response := proxyRequest(t, addr, "GET "+origin.URL+"/hello HTTP/1.1")

	if !strings.Contains(response, "hello world") {
		t.Fatalf("response is %q", response)
	}
	if handleCount != 1 {
		t.Fatalf("origin handled %d requests", handleCount)
	}
}

func TestSecondRequestServedFromCache(t *testing.T) {
	var handleCount int
	r := chi.NewRouter()
	r.Get("/cached", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte("cache me"))
	})
	origin := httptest.NewServer(r)
	defer origin.Close()

	addr := startProxy(t, cache.NewMemoryStore(0, 0), 0)
	uri := origin.URL + "/cached"

	first := proxyRequest(t, addr, "GET "+uri+" HTTP/1.1")
	second := proxyRequest(t, addr, "GET "+uri+" HTTP/1.1")

	if handleCount != 1 {
		t.Fatalf("origin handled %d requests, want 1", handleCount)
	}
	// the cached payload is the raw bytes of the first response
	if first != second {
		t.Fatalf("cached response differs:\nfirst:  %q\nsecond: %q", first, second)
	}
	if !strings.Contains(second, "cache me") {
		t.Fatalf("response is %q", second)
	}
}

func TestLargeObjectNotCached(t *testing.T) {
	var handleCount int
	big := strings.Repeat("x", 4096)
	r := chi.NewRouter()
	r.Get("/big", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte(big))
	})
	origin := httptest.NewServer(r)
	defer origin.Close()

	// ceiling far below the response size: stream through, never admit
	addr := startProxy(t, cache.NewMemoryStore(0, 64), 64)
	uri := origin.URL + "/big"

	first := proxyRequest(t, addr, "GET "+uri+" HTTP/1.1")
	second := proxyRequest(t, addr, "GET "+uri+" HTTP/1.1")

	if handleCount != 2 {
		t.Fatalf("origin handled %d requests, want 2", handleCount)
	}
	if !strings.Contains(first, big) || !strings.Contains(second, big) {
		t.Fatal("oversize response was not delivered in full")
	}
}

func TestHeaderNormalization(t *testing.T) {
	var gotUserAgent, gotTrace, gotHost string
	r := chi.NewRouter()
	r.Get("/headers", func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotTrace = r.Header.Get("X-Trace")
		gotHost = r.Host
		w.Write([]byte("ok"))
	})
	origin := httptest.NewServer(r)
	defer origin.Close()

	addr := startProxy(t, cache.NewMemoryStore(0, 0), 0)
	proxyRequest(t, addr, "GET "+origin.URL+"/headers HTTP/1.1",
		"User-Agent: test-agent",
		"X-Trace: 42",
	)

	if !strings.Contains(gotUserAgent, "Firefox") {
		t.Fatalf("User-Agent not normalized: %q", gotUserAgent)
	}
	if gotTrace != "42" {
		t.Fatalf("unrecognized header not forwarded verbatim: %q", gotTrace)
	}
	// no Host header was sent, so one is synthesized from the URI
	if gotHost != "127.0.0.1" {
		t.Fatalf("synthesized host is %q", gotHost)
	}
}

func TestClientHostHeaderForwardedVerbatim(t *testing.T) {
	var gotHost string
	r := chi.NewRouter()
	r.Get("/host", func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.Write([]byte("ok"))
	})
	origin := httptest.NewServer(r)
	defer origin.Close()

	addr := startProxy(t, cache.NewMemoryStore(0, 0), 0)
	proxyRequest(t, addr, "GET "+origin.URL+"/host HTTP/1.1",
		"Host: browser.example",
	)

	if gotHost != "browser.example" {
		t.Fatalf("host is %q", gotHost)
	}
}

func TestNonGetRejected(t *testing.T) {
	addr := startProxy(t, cache.NewMemoryStore(0, 0), 0)
	response := proxyRequest(t, addr, "POST http://example.com/ HTTP/1.1")

	if !strings.HasPrefix(response, "HTTP/1.0 501") {
		t.Fatalf("response is %q", response)
	}
}

func TestMalformedRequestLineClosesQuietly(t *testing.T) {
	addr := startProxy(t, cache.NewMemoryStore(0, 0), 0)
	response := proxyRequest(t, addr, "GARBAGE")

	if response != "" {
		t.Fatalf("response is %q", response)
	}
}

func TestOriginConnectFailureClosesQuietly(t *testing.T) {
	addr := startProxy(t, cache.NewMemoryStore(0, 0), 0)
	// nothing listens on port 1
	response := proxyRequest(t, addr, "GET http://127.0.0.1:1/x HTTP/1.1")

	if response != "" {
		t.Fatalf("response is %q", response)
	}
}

func TestCacheHitDoesNotContactOrigin(t *testing.T) {
	store := cache.NewMemoryStore(0, 0)
	canned := "HTTP/1.0 200 OK\r\nContent-Length: 3\r\n\r\nhi!"
	if err := store.Insert("http://origin.invalid/x", []byte(canned)); err != nil {
		t.Fatal(err)
	}

	// origin.invalid does not resolve, so a miss would fail loudly
	addr := startProxy(t, store, 0)
	response := proxyRequest(t, addr, "GET http://origin.invalid/x HTTP/1.1")

	if response != canned {
		t.Fatalf("response is %q", response)
	}
}
