package codec

import (
	"bytes"
	"strconv"

	"github.com/relaywire/proxy/internal/domain"
)

// framingMode selects how a BodyReader recognizes the end of a body.
type framingMode int

const (
	framingEmpty framingMode = iota
	framingFixed
	framingChunked
	framingUntilClose
)

// DefaultMaxBodyLength is the byte ceiling for the "until close"
// framing mode; exceeding it truncates the body with a warning rather
// than an error.
const DefaultMaxBodyLength = 4_096_000

// chunkState tracks progress through chunked-transfer decoding.
type chunkState int

const (
	chunkReadingSize chunkState = iota
	chunkReadingData
	chunkReadingDataCRLF
	chunkReadingTrailer
	chunkDone
)

// BodyReader consumes body bytes under one of the four framing modes
// Callers feed it slices as they arrive via
// Feed; after Done() reports true no further bytes are consumed.
type BodyReader struct {
	mode framingMode
	max  int64

	// fixed / until-close
	remaining int64 // fixed: bytes left to read; untilClose: unused
	body      bytes.Buffer
	done      bool
	truncated bool

	// chunked
	cstate      chunkState
	chunkLeft   int64
	pendingSize bytes.Buffer
}

// NewFixedBodyReader reads exactly n bytes.
func NewFixedBodyReader(n int64) *BodyReader {
	if n <= 0 {
		return &BodyReader{mode: framingEmpty, done: true}
	}
	return &BodyReader{mode: framingFixed, remaining: n}
}

// NewChunkedBodyReader reads a chunked-transfer body, discarding
// trailers.
func NewChunkedBodyReader() *BodyReader {
	return &BodyReader{mode: framingChunked, cstate: chunkReadingSize}
}

// NewUntilCloseBodyReader reads until the connection closes or
// maxBodyLength bytes have been buffered.
func NewUntilCloseBodyReader(maxBodyLength int64) *BodyReader {
	if maxBodyLength <= 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	return &BodyReader{mode: framingUntilClose, max: maxBodyLength}
}

// NewEmptyBodyReader is immediately complete: 204/304, HEAD responses,
// and 1xx informational.
func NewEmptyBodyReader() *BodyReader {
	return &BodyReader{mode: framingEmpty, done: true}
}

// Truncated reports whether an until-close body hit maxBodyLength.
func (r *BodyReader) Truncated() bool { return r.truncated }

// Done reports whether the body is fully read.
func (r *BodyReader) Done() bool { return r.done }

// Body returns the accumulated body bytes so far. Only meaningful
// once Done() is true — callers must not surface this before Done().
func (r *BodyReader) Body() []byte {
	return r.body.Bytes()
}

// Feed consumes as much of data as the current framing mode allows,
// returning the number of bytes consumed. Once Done() is true, Feed
// is a no-op.
func (r *BodyReader) Feed(data []byte) (consumed int) {
	if r.done {
		return 0
	}
	switch r.mode {
	case framingEmpty:
		r.done = true
		return 0
	case framingFixed:
		return r.feedFixed(data)
	case framingChunked:
		return r.feedChunked(data)
	case framingUntilClose:
		return r.feedUntilClose(data)
	default:
		return 0
	}
}

// Close notifies an until-close reader that the connection has
// reached EOF; the body is complete with whatever bytes were fed.
func (r *BodyReader) Close() {
	if r.mode == framingUntilClose {
		r.done = true
	}
}

func (r *BodyReader) feedFixed(data []byte) int {
	take := int64(len(data))
	if take > r.remaining {
		take = r.remaining
	}
	r.body.Write(data[:take])
	r.remaining -= take
	if r.remaining == 0 {
		r.done = true
	}
	return int(take)
}

func (r *BodyReader) feedUntilClose(data []byte) int {
	take := len(data)
	if r.max > 0 {
		room := r.max - int64(r.body.Len())
		if room <= 0 {
			r.done = true
			r.truncated = true
			return 0
		}
		if int64(take) > room {
			take = int(room)
		}
	}
	r.body.Write(data[:take])
	if r.max > 0 && int64(r.body.Len()) >= r.max {
		r.done = true
		r.truncated = true
	}
	return take
}

func (r *BodyReader) feedChunked(data []byte) int {
	total := 0
	for total < len(data) && !r.done {
		switch r.cstate {
		case chunkReadingSize:
			n, ok := r.consumeSizeLine(data[total:])
			if !ok {
				return total + n // partial size line is held in pendingSize
			}
			total += n
		case chunkReadingData:
			n := r.consumeChunkData(data[total:])
			total += n
			if r.chunkLeft > 0 {
				return total // need more bytes
			}
		case chunkReadingDataCRLF:
			n, ok := r.consumeCRLF(data[total:])
			if !ok {
				return total
			}
			total += n
			r.cstate = chunkReadingSize
		case chunkReadingTrailer:
			n, done := r.consumeTrailerLine(data[total:])
			total += n
			if done {
				r.done = true
			}
			if n == 0 && !done {
				return total
			}
		case chunkDone:
			r.done = true
		}
	}
	return total
}

// consumeSizeLine reads a hex chunk-size line (ignoring chunk
// extensions after ';') terminated by CRLF.
func (r *BodyReader) consumeSizeLine(data []byte) (consumed int, ok bool) {
	idx := findCRLF(data)
	if idx == -1 {
		r.pendingSize.Write(data)
		return len(data), false
	}
	line := append(r.pendingSize.Bytes(), data[:idx]...)
	r.pendingSize.Reset()

	hexPart := line
	if semi := bytes.IndexByte(line, ';'); semi != -1 {
		hexPart = line[:semi]
	}
	hexPart = bytes.TrimSpace(hexPart)

	size, err := strconv.ParseInt(string(hexPart), 16, 64)
	if err != nil {
		r.done = true
		return idx + len(crlf), true
	}

	if size == 0 {
		r.cstate = chunkReadingTrailer
	} else {
		r.chunkLeft = size
		r.cstate = chunkReadingData
	}
	return idx + len(crlf), true
}

func (r *BodyReader) consumeChunkData(data []byte) int {
	take := int64(len(data))
	if take > r.chunkLeft {
		take = r.chunkLeft
	}
	r.body.Write(data[:take])
	r.chunkLeft -= take
	if r.chunkLeft == 0 {
		r.cstate = chunkReadingDataCRLF
	}
	return int(take)
}

func (r *BodyReader) consumeCRLF(data []byte) (consumed int, ok bool) {
	if len(data) < 2 {
		return 0, false
	}
	return 2, true
}

// consumeTrailerLine discards trailer lines until a bare CRLF.
func (r *BodyReader) consumeTrailerLine(data []byte) (consumed int, done bool) {
	idx := findCRLF(data)
	if idx == -1 {
		return 0, false
	}
	if idx == 0 {
		return len(crlf), true
	}
	return idx + len(crlf), false
}

// SelectBodyReader picks the framing mode from the
// declared headers and the response status/method context.
//
// isResponse, statusCode and requestMethod let callers apply the
// empty-body special cases (204/304/HEAD/1xx); pass statusCode=0 and
// requestMethod="" for requests, which are never implicitly empty.
func SelectBodyReader(h *domain.Headers, isResponse bool, statusCode int, requestMethod domain.Method, maxBodyLength int64) *BodyReader {
	if isResponse {
		if statusCode == 204 || statusCode == 304 || (statusCode >= 100 && statusCode < 200) {
			return NewEmptyBodyReader()
		}
		if requestMethod == domain.MethodHead {
			return NewEmptyBodyReader()
		}
	}

	if h.IsChunked() {
		return NewChunkedBodyReader()
	}

	cl := h.ContentLength()
	if cl >= 0 {
		return NewFixedBodyReader(cl)
	}

	if isResponse {
		return NewUntilCloseBodyReader(maxBodyLength)
	}

	// Requests without Content-Length or chunked framing have no body.
	return NewEmptyBodyReader()
}
