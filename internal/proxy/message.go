package proxy

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
	"github.com/Sternrassler/exchange-cache/pkg/mediation"
)

// hopHeaders are connection-scoped and never cached, hashed or forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// headerList flattens h into name-ordered headers. Values of one name keep
// their order.
func headerList(h http.Header) []fingerprint.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		if !hopHeaders[http.CanonicalHeaderKey(name)] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]fingerprint.Header, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, fingerprint.Header{Name: name, Value: v})
		}
	}
	return out
}

// parseBody builds a tree for XML and JSON payloads. Other payloads, and
// payloads that fail to parse, have no tree.
func parseBody(contentType string, payload []byte) fingerprint.Node {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	var (
		body fingerprint.Node
		err  error
	)
	switch {
	case mediaType == mediation.JSONContentType || strings.HasSuffix(mediaType, "+json"):
		body, err = fingerprint.ParseJSON(payload)
	case strings.HasSuffix(mediaType, "/xml") || strings.HasSuffix(mediaType, "+xml"):
		body, err = fingerprint.ParseXMLBytes(payload)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return body
}

// requestMessage converts an inbound request. to is the upstream address the
// request will be sent to.
func requestMessage(r *http.Request, to string, payload []byte) *mediation.Message {
	ct := r.Header.Get("Content-Type")
	msg := &mediation.Message{
		Method:      r.Method,
		To:          to,
		REST:        true,
		Headers:     headerList(r.Header),
		Payload:     payload,
		ContentType: ct,
		MessageType: ct,
	}
	// The method roots the body tree. Requests without a body still get a
	// body-inclusive fingerprint; payloads that do not parse get none.
	if len(payload) == 0 {
		msg.Body = fingerprint.MethodRoot(r.Method, nil)
	} else if tree := parseBody(ct, payload); tree != nil {
		msg.Body = fingerprint.MethodRoot(r.Method, tree)
	}
	return msg
}

// responseMessage converts an upstream response. The raw payload is kept
// so that cached bytes match what the upstream sent.
func responseMessage(req *mediation.Message, resp *http.Response, payload []byte) *mediation.Message {
	ct := resp.Header.Get("Content-Type")
	return &mediation.Message{
		Method:       req.Method,
		To:           req.To,
		REST:         true,
		Headers:      headerList(resp.Header),
		Payload:      payload,
		ContentType:  ct,
		MessageType:  ct,
		StatusCode:   resp.StatusCode,
		StatusReason: statusReason(resp),
		Response:     true,
	}
}

func statusReason(resp *http.Response) string {
	reason := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// writeMessage writes a response message to w. Hits drop the stored Date
// header so the server stamps the time the response is actually sent.
func writeMessage(w http.ResponseWriter, msg *mediation.Message, cacheStatus string) {
	h := w.Header()
	for _, hdr := range msg.Headers {
		name := http.CanonicalHeaderKey(hdr.Name)
		if hopHeaders[name] || (cacheStatus == StatusHit && name == "Date") {
			continue
		}
		h.Add(hdr.Name, hdr.Value)
	}
	if h.Get("Content-Type") == "" && msg.ContentType != "" {
		h.Set("Content-Type", msg.ContentType)
	}
	h.Set(HeaderCacheStatus, cacheStatus)
	h.Set("Content-Length", strconv.Itoa(len(msg.Payload)))

	code := msg.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	w.Write(msg.Payload)
}
