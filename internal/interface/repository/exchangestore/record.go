package exchangestore

import "github.com/relaywire/proxy/internal/domain"

// jsonRequest is the on-the-wire shape of a captured request, per
// the capture-export JSON shapes the UI reads.
type jsonRequest struct {
	Class   string              `json:"_class"`
	URI     string              `json:"uri"`
	Method  string              `json:"method"`
	Headers map[string][]string `json:"headers"`
	Body    *string             `json:"body"`
}

// jsonStatus is the status-line portion of a captured response.
type jsonStatus struct {
	Code         int    `json:"code"`
	ReasonPhrase string `json:"reasonPhrase"`
}

// jsonResponse is the on-the-wire shape of a captured response, per
// the capture-export JSON shapes the UI reads.
type jsonResponse struct {
	Class           string              `json:"_class"`
	ProtocolVersion string              `json:"protocolVersion"`
	Status          jsonStatus          `json:"status"`
	Headers         map[string][]string `json:"headers"`
	Body            *string             `json:"body"`
}

// record is the export-time envelope for one exchange, matching the
// event-channel shape the UI already consumes: request, response
// (null if the exchange aborted early), remoteAddress, durationMs.
type record struct {
	Request       *jsonRequest  `json:"request"`
	Response      *jsonResponse `json:"response"`
	RemoteAddress string        `json:"remoteAddress"`
	DurationMs    int64         `json:"durationMs"`
}

func toRecord(e *domain.Exchange) *record {
	rec := &record{
		RemoteAddress: e.RemoteAddress,
		DurationMs:    e.DurationMs,
	}
	if e.Request != nil {
		rec.Request = requestToJSON(e.Request)
	}
	if e.Response != nil {
		rec.Response = responseToJSON(e.Response)
	}
	return rec
}

func requestToJSON(req *domain.Request) *jsonRequest {
	return &jsonRequest{
		Class:   "HttpRequest",
		URI:     req.Target,
		Method:  string(req.Method),
		Headers: headersToJSON(req.Headers),
		Body:    bodyToLatin1(displayBody(req.Message)),
	}
}

func responseToJSON(resp *domain.Response) *jsonResponse {
	return &jsonResponse{
		Class:           "HttpResponse",
		ProtocolVersion: resp.ProtocolVersion,
		Status: jsonStatus{
			Code:         resp.StatusCode,
			ReasonPhrase: resp.ReasonPhrase,
		},
		Headers: headersToJSON(resp.Headers),
		Body:    bodyToLatin1(displayBody(resp.Message)),
	}
}

// displayBody prefers a brotli-decoded DisplayBody over the wire Body
// so captured/exported records read as plaintext regardless of
// encoding.
func displayBody(m domain.Message) []byte {
	if m.DisplayBody != nil {
		return m.DisplayBody
	}
	return m.Body
}

func headersToJSON(h *domain.Headers) map[string][]string {
	if h == nil {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h.Names()))
	for _, name := range h.Names() {
		out[name] = h.Values(name)
	}
	return out
}

// bodyToLatin1 encodes body as Latin-1-bytes-to-string, each byte
// becoming one code point, a binary-safe encoding that
// avoids base64 framing. nil body maps to a JSON null.
func bodyToLatin1(body []byte) *string {
	if body == nil {
		return nil
	}
	runes := make([]rune, len(body))
	for i, b := range body {
		runes[i] = rune(b)
	}
	s := string(runes)
	return &s
}
