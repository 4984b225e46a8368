// Package codec implements the byte-level HTTP/1.x line scanner,
// streaming body reader, and the incremental decoder/encoder built on
// top of them.
package codec

import (
	"bytes"

	"github.com/relaywire/proxy/internal/domain"
)

const crlf = "\r\n"

// findCRLF returns the index of the first CRLF in buf, or -1.
func findCRLF(buf []byte) int {
	return bytes.Index(buf, []byte(crlf))
}

// ParseInitialLine consumes bytes up to the first CRLF within maxSize
// and splits it into three whitespace-delimited tokens: the request
// method/URI/version or the status version/code/reason. Splitting
// uses the first two ASCII SP bytes; all remaining bytes (including
// further SPs) form the third token.
//
// It returns ok=false with no error when the buffer does not yet
// contain a full line (caller should feed more bytes). It returns a
// *domain.ParseError when fewer than three tokens are produced, or
// when the line exceeds maxSize.
func ParseInitialLine(buf *bytes.Buffer, maxSize int) (tok0, tok1, tok2 string, consumed int, ok bool, err error) {
	data := buf.Bytes()
	idx := findCRLF(data)
	if idx == -1 {
		if len(data) > maxSize {
			return "", "", "", 0, false, domain.NewParseError("parseLine error", data)
		}
		return "", "", "", 0, false, nil
	}
	if idx > maxSize {
		return "", "", "", 0, false, domain.NewParseError("parseLine error", data[:idx])
	}

	line := data[:idx]
	consumed = idx + len(crlf)

	first := bytes.IndexByte(line, ' ')
	if first == -1 {
		return "", "", "", 0, false, domain.NewParseError("parseLine error", line)
	}
	rest := line[first+1:]
	second := bytes.IndexByte(rest, ' ')
	if second == -1 {
		return "", "", "", 0, false, domain.NewParseError("parseLine error", line)
	}

	tok0 = string(line[:first])
	tok1 = string(rest[:second])
	tok2 = string(rest[second+1:])

	if tok0 == "" || tok1 == "" || tok2 == "" {
		return "", "", "", 0, false, domain.NewParseError("parseLine error", line)
	}

	buf.Next(consumed)
	return tok0, tok1, tok2, consumed, true, nil
}

// ParseHeaders repeatedly extracts CRLF-terminated lines from buf,
// splitting each at the first ": " into (name, value), and adding
// them to h. An empty line terminates header parsing and returns
// done=true. If buf ends mid-line, the complete lines before it are
// consumed (and already added to h), the partial line stays in buf, and
// done=false is returned so the caller can resume once more bytes
// arrive.
func ParseHeaders(buf *bytes.Buffer, h *domain.Headers, maxHeaderBytes int) (done bool, err error) {
	consumedTotal := 0
	data := buf.Bytes()

	for {
		remaining := data[consumedTotal:]
		idx := findCRLF(remaining)
		if idx == -1 {
			if len(remaining) > maxHeaderBytes {
				return false, domain.NewParseError("parseHeader error: header too long", remaining)
			}
			buf.Next(consumedTotal)
			return false, nil
		}

		line := remaining[:idx]
		lineEnd := consumedTotal + idx + len(crlf)

		if len(line) == 0 {
			buf.Next(lineEnd)
			return true, nil
		}

		sep := bytes.Index(line, []byte(": "))
		if sep == -1 {
			buf.Next(lineEnd)
			return false, domain.NewParseError("parseHeader error", line)
		}

		name := string(line[:sep])
		value := string(line[sep+2:])
		h.Add(name, value)

		consumedTotal = lineEnd
		if consumedTotal > maxHeaderBytes {
			return false, domain.NewParseError("parseHeader error: header region too long", data[:consumedTotal])
		}
	}
}
