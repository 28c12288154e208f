// Package forwardcache implements a forwarding HTTP proxy with a
// shared, capacity-bounded object cache. Each accepted connection
// carries exactly one HTTP/1.0-style GET request, served either from
// the cache or by fetching from the addressed origin, with small
// responses admitted into the cache on the way through.
package forwardcache

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/forward-cache/forward-cache/cache"

	"github.com/rs/zerolog"
)

type Config struct {
	// Storage for cached objects.
	Cache cache.ObjectStore
	// MaxObjectSize caps how many response bytes are buffered for
	// cache admission. Non-positive means the cache package default.
	MaxObjectSize int64
	// DialTimeout bounds origin connection attempts. Zero disables.
	DialTimeout time.Duration
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Proxy struct {
	cache     cache.ObjectStore
	log       zerolog.Logger
	dialer    net.Dialer
	maxObject int64

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// CreateProxy initializes the proxy instance and sets up the needed
// variables. The listening socket is opened by Run or Serve.
func CreateProxy(config Config) *Proxy {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	maxObject := config.MaxObjectSize
	if maxObject <= 0 {
		maxObject = cache.DefaultMaxObjectSize
	}

	return &Proxy{
		cache:     config.Cache,
		log:       logger,
		dialer:    net.Dialer{Timeout: config.DialTimeout},
		maxObject: maxObject,
	}
}

// Run listens on addr and serves until the listener fails or the
// proxy is closed.
func (p *Proxy) Run(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return p.Serve(l)
}

// Serve accepts connections from l, spawning one goroutine per
// connection. The goroutines are never joined: each connection's
// outcome is its own, and its resources are released on every exit
// path. A listener failure is fatal to the proxy, a failure on any
// single connection is not.
func (p *Proxy) Serve(l net.Listener) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		l.Close()
		return nil
	}
	p.listener = l
	p.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if p.isClosed() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go p.serveConn(conn)
	}
}

// Close stops accepting connections and tears the cache down.
// In-flight connections finish on their own.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	l := p.listener
	p.mu.Unlock()

	if l != nil {
		l.Close()
	}
	if p.cache != nil {
		return p.cache.Teardown()
	}
	return nil
}

func (p *Proxy) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// serveConn owns the whole lifecycle of one client connection.
func (p *Proxy) serveConn(conn net.Conn) {
	defer conn.Close()
	log := p.log.With().Str("client", conn.RemoteAddr().String()).Logger()

	origin, uri, ok := p.handleRequest(conn, log)
	if !ok {
		return
	}
	defer origin.Close()

	p.relay(origin, conn, uri, log)
}
