// Package uriresolver splits a proxied request URI into the origin
// host, port and object path.
package uriresolver

import (
	"errors"
	"strconv"
	"strings"
)

// DefaultPort is used when the URI does not name a port.
const DefaultPort = 80

// ErrNoHost is returned when the URI contains no parseable host segment.
var ErrNoHost = errors.New("uriresolver: no host in request URI")

// Target is the parsed form of a request URI.
// It has no identity beyond the request it was parsed for.
type Target struct {
	Host string
	Port int
	Path string
}

// Resolve parses a request URI of the form [scheme://]host[:port][/path].
// The scheme prefix is discarded, the port defaults to 80, and a URI
// without a path resolves to "/". A ":" followed by something other than
// digits yields the default port, with the remainder treated as path.
func Resolve(uri string) (Target, error) {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if rest == "" {
		return Target{}, ErrNoHost
	}

	hostEnd := strings.IndexAny(rest, ":/")
	if hostEnd == -1 {
		hostEnd = len(rest)
	}
	host := rest[:hostEnd]
	if host == "" {
		return Target{}, ErrNoHost
	}
	rest = rest[hostEnd:]

	port := DefaultPort
	if strings.HasPrefix(rest, ":") {
		rest = rest[1:]
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		if p, err := strconv.Atoi(rest[:digits]); err == nil {
			port = p
		}
		rest = rest[digits:]
	}

	path := rest
	if path == "" {
		path = "/"
	}
	return Target{Host: host, Port: port, Path: path}, nil
}
