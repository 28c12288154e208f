package forwardcache

import (
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"
)

// relayBufSize is the chunk size for the origin-to-client copy.
const relayBufSize = 8192

// relay streams the origin response to the client chunk by chunk
// while accumulating it for cache admission. Crossing the per-object
// ceiling only disqualifies the object from the cache; delivery to
// the client continues uninterrupted. The assembled object is handed
// to the cache only after the origin closes the stream, so no cache
// lock is ever held across network I/O.
func (p *Proxy) relay(origin, client net.Conn, uri string, log zerolog.Logger) {
	buf := make([]byte, relayBufSize)
	object := make([]byte, 0, relayBufSize)
	var total int64
	cacheable := true
	var writeErr error

	for {
		n, err := origin.Read(buf)
		if n > 0 {
			total += int64(n)
			if writeErr == nil {
				if _, werr := client.Write(buf[:n]); werr != nil {
					writeErr = werr
					log.Warn().Err(werr).Str("uri", uri).Msg("Could not write to client, draining origin")
				}
			}
			if cacheable {
				if total > p.maxObject {
					cacheable = false
					object = nil
				} else {
					object = append(object, buf[:n]...)
				}
			}
			if writeErr != nil && !cacheable {
				// nobody left to deliver to and nothing to admit
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Str("uri", uri).Msg("Could not read origin response")
				return
			}
			break
		}
	}

	if cacheable && total > 0 {
		if err := p.cache.Insert(uri, object); err != nil {
			log.Warn().Err(err).Str("uri", uri).Msg("Cache admission skipped")
		} else {
			log.Debug().Str("uri", uri).Int64("bytes", total).Msg("Cached object")
		}
	}
	log.Debug().Str("uri", uri).Int64("bytes", total).Int("hit", 0).Msg("Relayed origin response")
}
