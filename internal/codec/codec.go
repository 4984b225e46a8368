package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/relaywire/proxy/internal/domain"
)

// state is the codec's explicit sum type:
// {ReadInitial, ReadHeader, ReadBody(BodyReader), Done}. Transitions
// move strictly forward; Done -> ReadInitial resets for the next
// message on the same connection.
type state int

const (
	stateReadInitial state = iota
	stateReadHeader
	stateReadBody
	stateDone
)

// Direction distinguishes a request decoder from a response decoder;
// the two specializations differ only in how the initial line is
// parsed and how the empty-body special cases apply.
type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

// Codec is a per-direction, per-connection streaming decoder and a
// one-shot encoder for a complete HTTP/1.x message.
type Codec struct {
	direction     Direction
	maxLineLen    int
	maxBodyLength int64

	st          state
	buf         bytes.Buffer
	headers     *domain.Headers
	body        *BodyReader
	protoVer    string
	reqMethod   domain.Method
	reqTarget   string
	respCode    int
	respReason  string
	lastMethod  domain.Method // remembered across a response decode for HEAD detection
}

// NewRequestCodec returns a codec that decodes/encodes requests.
func NewRequestCodec(maxLineLen int, maxBodyLength int64) *Codec {
	return &Codec{direction: DirectionRequest, maxLineLen: maxLineLen, maxBodyLength: maxBodyLength, st: stateReadInitial}
}

// NewResponseCodec returns a codec that decodes/encodes responses.
// lastMethod should be set (via SetLastRequestMethod) before decoding
// a response to a HEAD request, since HEAD responses are always
// empty-bodied regardless of headers.
func NewResponseCodec(maxLineLen int, maxBodyLength int64) *Codec {
	return &Codec{direction: DirectionResponse, maxLineLen: maxLineLen, maxBodyLength: maxBodyLength, st: stateReadInitial}
}

// SetLastRequestMethod records the method of the request this
// response codec is about to decode a reply to.
func (c *Codec) SetLastRequestMethod(m domain.Method) {
	c.lastMethod = m
}

func (c *Codec) reset() {
	c.headers = domain.NewHeaders()
	c.body = nil
	c.protoVer = ""
	c.reqMethod = ""
	c.reqTarget = ""
	c.respCode = 0
	c.respReason = ""
}

// Feed appends newly-arrived bytes to the codec's internal buffer.
func (c *Codec) Feed(data []byte) {
	c.buf.Write(data)
}

// DecodeRequest attempts to decode one Request from previously-fed
// bytes. ok=false, err=nil means more bytes are needed.
func (c *Codec) DecodeRequest() (req *domain.Request, ok bool, err error) {
	if c.direction != DirectionRequest {
		return nil, false, fmt.Errorf("codec: DecodeRequest called on a response codec")
	}
	msg, ok, err := c.decode()
	if !ok || err != nil {
		return nil, ok, err
	}
	req = &domain.Request{
		Message:    *msg,
		ExchangeID: domain.NewExchangeID(),
		Method:     c.reqMethod,
		Target:     c.reqTarget,
		CreatedAt:  time.Now(),
	}
	return req, true, nil
}

// DecodeResponse attempts to decode one Response from previously-fed
// bytes.
func (c *Codec) DecodeResponse() (resp *domain.Response, ok bool, err error) {
	if c.direction != DirectionResponse {
		return nil, false, fmt.Errorf("codec: DecodeResponse called on a request codec")
	}
	msg, ok, err := c.decode()
	if !ok || err != nil {
		return nil, ok, err
	}
	resp = &domain.Response{
		Message:      *msg,
		ExchangeID:   domain.NewExchangeID(),
		StatusCode:   c.respCode,
		ReasonPhrase: c.respReason,
		CreatedAt:    time.Now(),
	}
	return resp, true, nil
}

// decode drives the ReadInitial -> ReadHeader -> ReadBody -> Done state machine.
func (c *Codec) decode() (*domain.Message, bool, error) {
	if c.st == stateReadInitial {
		c.reset()
		if err := c.decodeInitialLine(); err != nil {
			return nil, false, err
		}
		if c.st == stateReadInitial {
			return nil, false, nil // need more bytes for the initial line
		}
	}

	if c.st == stateReadHeader {
		done, err := ParseHeaders(&c.buf, c.headers, c.maxLineLen)
		if err != nil {
			return nil, false, err
		}
		if !done {
			return nil, false, nil
		}
		c.body = SelectBodyReader(c.headers, c.direction == DirectionResponse, c.respCode, c.lastMethod, c.maxBodyLength)
		c.st = stateReadBody
	}

	if c.st == stateReadBody {
		data := c.buf.Bytes()
		n := c.body.Feed(data)
		c.buf.Next(n)
		if !c.body.Done() {
			return nil, false, nil
		}
		c.st = stateDone
	}

	if c.st == stateDone {
		msg := &domain.Message{
			ProtocolVersion:       c.protoVer,
			Headers:               c.headers,
			Body:                  c.body.Body(),
			DeclaredContentLength: c.headers.ContentLength(),
		}
		if enc, ok := c.headers.ContentEncoding(); ok {
			switch strings.ToLower(enc) {
			case "gzip":
				if decoded, derr := gunzip(msg.Body); derr == nil {
					msg.Body = decoded
				}
			case "br":
				// decoded for display only: Body/Content-Encoding stay
				// untouched so a pass-through forward is unmodified.
				if decoded, derr := unbrotli(msg.Body); derr == nil {
					msg.DisplayBody = decoded
				}
			}
		}
		c.st = stateReadInitial
		return msg, true, nil
	}

	return nil, false, nil
}

func (c *Codec) decodeInitialLine() error {
	tok0, tok1, tok2, _, ok, err := ParseInitialLine(&c.buf, c.maxLineLen)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if c.direction == DirectionRequest {
		if !domain.IsValidMethod(tok0) {
			return domain.NewParseError("parseLine error: unknown method", []byte(tok0))
		}
		c.reqMethod = domain.Method(tok0)
		c.reqTarget = tok1
		c.protoVer = tok2
		c.lastMethod = c.reqMethod
	} else {
		c.protoVer = tok0
		code, convErr := strconv.Atoi(tok1)
		if convErr != nil {
			return domain.NewParseError("parseLine error: bad status code", []byte(tok1))
		}
		c.respCode = code
		c.respReason = tok2
	}
	c.st = stateReadHeader
	return nil
}

func gunzip(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// gzipEncode is used by encodeMessage to re-compress a body that advertises
// Content-Encoding: gzip.
func gzipEncode(data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

// unbrotli decodes a brotli body for display only; brotli bodies are
// never re-encoded on emit.
func unbrotli(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	r := brotli.NewReader(bytes.NewReader(data))
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeRequest renders a request line and headers back to wire bytes.
func EncodeRequest(r *domain.Request) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s%s", r.Method, r.Target, r.ProtocolVersion, crlf)
	encodeMessage(&buf, &r.Message)
	return buf.Bytes()
}

// EncodeResponse renders a status line and headers back to wire bytes.
func EncodeResponse(r *domain.Response) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s%s", r.ProtocolVersion, r.StatusCode, r.ReasonPhrase, crlf)
	encodeMessage(&buf, &r.Message)
	return buf.Bytes()
}

func encodeMessage(buf *bytes.Buffer, m *domain.Message) {
	body := m.Body
	if enc, ok := m.Headers.ContentEncoding(); ok && strings.EqualFold(enc, "gzip") {
		body = gzipEncode(body)
	}

	m.Headers.Remove("Transfer-Encoding")
	m.Headers.Remove("Content-Length")
	if len(body) > 0 {
		m.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	}

	for _, name := range m.Headers.Names() {
		for _, v := range m.Headers.Values(name) {
			buf.WriteString(name)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString(crlf)
		}
	}
	buf.WriteString(crlf)
	if len(body) > 0 {
		buf.Write(body)
	}
}
