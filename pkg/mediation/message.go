package mediation

import (
	"sort"
	"strings"

	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
)

// JSONContentType selects the JSON serialization path.
const JSONContentType = "application/json"

// Header keys added to cached header properties.
const (
	HeaderMessageType = "messageType"
	HeaderCacheKey    = "cacheKey"
)

// Message is the request or response travelling through a pipeline.
type Message struct {
	// Method is the request method, such as GET.
	Method string
	// To is the target address. Empty when unknown.
	To string
	// REST marks header-based transports; their headers are cached individually.
	REST bool
	// Headers are the transport headers in arrival order.
	Headers []fingerprint.Header
	// Body is the structured body, if the host parsed one.
	Body fingerprint.Node
	// Payload is the raw body.
	Payload []byte
	// ContentType is the declared content type, parameters included.
	ContentType string
	// MessageType is the host's formatter hint.
	MessageType string
	// StatusCode and StatusReason describe a response.
	StatusCode   int
	StatusReason string
	// Response is true on the inbound side of an exchange.
	Response bool
}

// Header returns the first value of the named header, matched case-insensitively.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// SetHeader replaces every header of that name with a single value.
func (m *Message) SetHeader(name, value string) {
	out := make([]fingerprint.Header, 0, len(m.Headers)+1)
	for _, h := range m.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
		}
	}
	m.Headers = append(out, fingerprint.Header{Name: name, Value: value})
}

// mediaType returns the content type without parameters.
func (m *Message) mediaType() string {
	return strings.TrimSpace(strings.SplitN(m.ContentType, ";", 2)[0])
}

func (m *Message) isJSON() bool {
	return strings.EqualFold(m.mediaType(), JSONContentType)
}

func (m *Message) descriptor() fingerprint.Descriptor {
	return fingerprint.Descriptor{
		To:      m.To,
		Headers: m.Headers,
		Body:    m.Body,
	}
}

// headerProperties copies transport headers into a map, one key per header.
func (m *Message) headerProperties() map[string]string {
	props := make(map[string]string, len(m.Headers)+2)
	for _, h := range m.Headers {
		if _, seen := props[h.Name]; !seen {
			props[h.Name] = h.Value
		}
	}
	return props
}

// headersFromProperties rebuilds transport headers from cached properties.
// The message type key is not a transport header and is skipped.
func headersFromProperties(props map[string]string) []fingerprint.Header {
	out := make([]fingerprint.Header, 0, len(props))
	for name, value := range props {
		if name == HeaderMessageType {
			continue
		}
		out = append(out, fingerprint.Header{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
