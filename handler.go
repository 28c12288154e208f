package forwardcache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	uriresolver "github.com/forward-cache/forward-cache/pkg/uri-resolver"

	"github.com/rs/zerolog"
)

// Canonical headers written to every origin request in place of
// whatever the client sent, so origins see a consistent, minimal,
// non-persistent request regardless of the browser.
const (
	userAgentHeader       = "User-Agent: Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3\r\n"
	acceptHeader          = "Accept: text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8\r\n"
	acceptEncodingHeader  = "Accept-Encoding: gzip, deflate\r\n"
	connectionHeader      = "Connection: close\r\n"
	proxyConnectionHeader = "Proxy-Connection: close\r\n"
)

const notImplementedResponse = "HTTP/1.0 501 Not Implemented\r\n\r\n"

// handleRequest reads one request from the client connection and
// advances it as far as the origin handoff. On a cache hit the cached
// payload is written to the client and no origin contact happens. On
// a miss the origin connection is returned with the rewritten request
// line and normalized headers already sent, ready for the relay.
// ok is false whenever the connection is already fully handled.
func (p *Proxy) handleRequest(conn net.Conn, log zerolog.Logger) (origin net.Conn, uri string, ok bool) {
	reader := bufio.NewReader(conn)

	line, err := reader.ReadString('\n')
	if err != nil {
		log.Debug().Err(err).Msg("Could not read request line")
		return nil, "", false
	}
	fields := strings.Fields(line)
	if len(fields) < 3 {
		log.Warn().Str("line", strings.TrimSpace(line)).Msg("Malformed request line")
		return nil, "", false
	}
	method, uri := fields[0], fields[1]

	if !strings.EqualFold(method, "GET") {
		log.Warn().Str("method", method).Msg("Method not implemented")
		io.WriteString(conn, notImplementedResponse)
		return nil, "", false
	}

	if payload, hit := p.cache.Lookup(uri); hit {
		if _, err := conn.Write(payload); err != nil {
			log.Error().Err(err).Str("uri", uri).Msg("Could not write cached object to client")
		}
		log.Debug().Str("uri", uri).Int("bytes", len(payload)).Int("hit", 1).Msg("Served from cache")
		return nil, "", false
	}

	target, err := uriresolver.Resolve(uri)
	if err != nil {
		log.Warn().Err(err).Str("uri", uri).Msg("Could not resolve request URI")
		return nil, "", false
	}

	origin, err = p.dialer.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(target.Port)))
	if err != nil {
		log.Error().Err(err).Str("host", target.Host).Int("port", target.Port).Msg("Could not connect to origin")
		return nil, "", false
	}

	w := bufio.NewWriter(origin)
	fmt.Fprintf(w, "GET %s HTTP/1.0\n", target.Path)
	if err := forwardHeaders(reader, w, target.Host); err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Could not forward request headers")
		origin.Close()
		return nil, "", false
	}
	if err := w.Flush(); err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Could not write request to origin")
		origin.Close()
		return nil, "", false
	}

	return origin, uri, true
}

// forwardHeaders relays the client's request headers to the origin
// until the blank terminator line. A Host header passes through
// verbatim; the other recognized headers are suppressed and replaced
// by the canonical set written once at the terminator. Everything
// else is forwarded unmodified.
func forwardHeaders(r *bufio.Reader, w *bufio.Writer, host string) error {
	hostSeen := false
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		atEOF := errors.Is(err, io.EOF)

		if strings.TrimRight(line, "\r\n") == "" {
			if !hostSeen {
				fmt.Fprintf(w, "Host: %s\r\n", host)
			}
			w.WriteString(userAgentHeader)
			w.WriteString(acceptHeader)
			w.WriteString(acceptEncodingHeader)
			w.WriteString(connectionHeader)
			w.WriteString(proxyConnectionHeader)
			w.WriteString("\r\n")
			return nil
		}

		name, _, _ := strings.Cut(line, ":")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "host":
			hostSeen = true
			w.WriteString(line)
		case "user-agent", "accept", "accept-encoding", "connection", "proxy-connection":
			// replaced by the canonical values at the terminator
		default:
			w.WriteString(line)
		}

		if atEOF {
			return io.ErrUnexpectedEOF
		}
	}
}
