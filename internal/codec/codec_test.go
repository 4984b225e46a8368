package codec

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxy/internal/domain"
)

func TestParseInitialLine_RequestLine(t *testing.T) {
	buf := newBuf("GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n")
	m, u, v, _, ok, err := ParseInitialLine(buf, 10240)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "GET", m)
	require.Equal(t, "/hello", u)
	require.Equal(t, "HTTP/1.1", v)
}

func TestParseInitialLine_TooFewTokens(t *testing.T) {
	buf := newBuf("GET\r\n\r\n")
	_, _, _, _, ok, err := ParseInitialLine(buf, 10240)
	require.False(t, ok)
	require.Error(t, err)
	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParseInitialLine_ExactBoundaryAccepted(t *testing.T) {
	line := "GET / " + strings.Repeat("H", 10240-len("GET / ")) + "\r\n\r\n"
	buf := newBuf(line)
	_, _, v, _, ok, err := ParseInitialLine(buf, 10240)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v, 10240-len("GET / "))
}

func TestParseInitialLine_OneByteOverBoundary(t *testing.T) {
	line := "GET / " + strings.Repeat("H", 10240-len("GET / ")+1) + "\r\n\r\n"
	buf := newBuf(line)
	_, _, _, _, ok, err := ParseInitialLine(buf, 10240)
	require.False(t, ok)
	require.Error(t, err)
}

func TestParseHeaders_SplitAcrossFeeds(t *testing.T) {
	h := domain.NewHeaders()
	buf := newBuf("Host: example.com\r\n")
	done, err := ParseHeaders(buf, h, 10240)
	require.NoError(t, err)
	require.False(t, done)

	buf.WriteString("Content-Length: 5\r\n\r\n")
	done, err = ParseHeaders(buf, h, 10240)
	require.NoError(t, err)
	require.True(t, done)

	v, ok := h.Get("Host")
	require.True(t, ok)
	require.Equal(t, "example.com", v)
	require.EqualValues(t, 5, h.ContentLength())
}

func TestChunkedBody_EmptyChunkTerminates(t *testing.T) {
	r := NewChunkedBodyReader()
	n := r.Feed([]byte("0\r\n\r\n"))
	require.Equal(t, 5, n)
	require.True(t, r.Done())
	require.Empty(t, r.Body())
}

func TestChunkedBody_SingleChunk(t *testing.T) {
	r := NewChunkedBodyReader()
	input := "5\r\nhello\r\n0\r\n\r\n"
	n := r.Feed([]byte(input))
	require.Equal(t, len(input), n)
	require.True(t, r.Done())
	require.Equal(t, "hello", string(r.Body()))
}

func TestChunkedBody_SplitAcrossFeeds(t *testing.T) {
	r := NewChunkedBodyReader()
	n1 := r.Feed([]byte("5\r\nhel"))
	require.Equal(t, 6, n1)
	require.False(t, r.Done())
	n2 := r.Feed([]byte("lo\r\n0\r\n\r\n"))
	require.Equal(t, 9, n2)
	require.True(t, r.Done())
	require.Equal(t, "hello", string(r.Body()))
}

func TestFixedBody(t *testing.T) {
	r := NewFixedBodyReader(5)
	n := r.Feed([]byte("hello world"))
	require.Equal(t, 5, n)
	require.True(t, r.Done())
	require.Equal(t, "hello", string(r.Body()))
}

func TestUntilCloseBody_TerminatesOnClose(t *testing.T) {
	r := NewUntilCloseBodyReader(DefaultMaxBodyLength)
	r.Feed([]byte("all the bytes before EOF"))
	require.False(t, r.Done())
	r.Close()
	require.True(t, r.Done())
	require.Equal(t, "all the bytes before EOF", string(r.Body()))
}

func TestUntilCloseBody_TruncatesAtMax(t *testing.T) {
	r := NewUntilCloseBodyReader(4)
	r.Feed([]byte("abcdef"))
	require.True(t, r.Done())
	require.True(t, r.Truncated())
	require.Equal(t, "abcd", string(r.Body()))
}

func TestChunkedWinsOverContentLength(t *testing.T) {
	h := domain.NewHeaders()
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Length", "999")
	br := SelectBodyReader(h, false, 0, "", DefaultMaxBodyLength)
	// A chunked reader isn't fooled by the bogus Content-Length: feeding
	// a short terminator completes it regardless of the declared length.
	n := br.Feed([]byte("0\r\n\r\n"))
	require.Equal(t, 5, n)
	require.True(t, br.Done())
}

func TestSelectBodyReader_EmptyStatuses(t *testing.T) {
	h := domain.NewHeaders()
	h.Set("Content-Length", "100")
	for _, code := range []int{204, 304, 100} {
		br := SelectBodyReader(h, true, code, "", DefaultMaxBodyLength)
		require.True(t, br.Done(), "status %d should be immediately done", code)
	}
}

func TestCodec_RoundTrip_S1(t *testing.T) {
	reqCodec := NewRequestCodec(10240, DefaultMaxBodyLength)
	reqCodec.Feed([]byte("GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	req, ok, err := reqCodec.DecodeRequest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.MethodGet, req.Method)
	require.Equal(t, "/hello", req.Target)

	respCodec := NewResponseCodec(10240, DefaultMaxBodyLength)
	respCodec.SetLastRequestMethod(req.Method)
	respCodec.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	resp, ok, err := respCodec.DecodeResponse()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "hello", string(resp.Body))

	encoded := EncodeResponse(resp)
	respCodec2 := NewResponseCodec(10240, DefaultMaxBodyLength)
	respCodec2.Feed(encoded)
	resp2, ok, err := respCodec2.DecodeResponse()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, resp.StatusCode, resp2.StatusCode)
	require.Equal(t, resp.Body, resp2.Body)
}

func TestCodec_ResetsToReadInitialAfterDone(t *testing.T) {
	respCodec := NewResponseCodec(10240, DefaultMaxBodyLength)
	respCodec.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nokHTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n"))

	first, ok, err := respCodec.DecodeResponse()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 200, first.StatusCode)

	second, ok, err := respCodec.DecodeResponse()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 201, second.StatusCode)
}

func TestCodec_GzipTransparency(t *testing.T) {
	h := domain.NewHeaders()
	h.Set("Content-Encoding", "gzip")
	body := gzipEncode([]byte("hello world"))
	h.Set("Content-Length", "999") // irrelevant for this direct decode-path unit test

	msg := &domain.Message{Headers: h, Body: body}
	// exercise the decode-time gunzip step directly, mirroring what the
	// codec's Done branch does.
	decoded, err := gunzip(msg.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(decoded))
}

func TestCodec_BrotliBodyDecodedForDisplayOnlyAndLeftIntactForForwarding(t *testing.T) {
	var compressed bytes.Buffer
	w := brotli.NewWriter(&compressed)
	_, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw := "HTTP/1.1 200 OK\r\nContent-Encoding: br\r\nContent-Length: " +
		strconv.Itoa(compressed.Len()) + "\r\n\r\n" + compressed.String()

	c := NewResponseCodec(10240, 1<<20)
	c.Feed([]byte(raw))
	resp, ok, err := c.DecodeResponse()
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, compressed.Bytes(), resp.Body)
	require.Equal(t, []byte("hello world"), resp.DisplayBody)

	encoded := EncodeResponse(resp)
	enc, _ := resp.Headers.ContentEncoding()
	require.Equal(t, "br", enc)
	require.True(t, bytes.Contains(encoded, compressed.Bytes()))
}

func newBuf(s string) *bytes.Buffer {
	b := &bytes.Buffer{}
	b.WriteString(s)
	return b
}
