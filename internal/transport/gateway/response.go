package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response is what a handler produces for one request.
type Response struct {
	StatusCode  int
	Body        any    // string and []byte pass through, everything else is JSON-encoded
	ContentType string // defaults to application/json
}

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	400: "Bad Request",
	404: "Not Found",
	500: "Internal Server Error",
}

// reasonPhrase looks up the reason phrase for a status code.
func reasonPhrase(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

// corsHeaders is the fixed permissive CORS set attached to every response.
var corsHeaders = [][2]string{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, POST, OPTIONS"},
	{"Access-Control-Allow-Headers", "Content-Type"},
}

// WriteResponse serializes a response to wire bytes: status line, fixed
// header set with computed Content-Length, blank line, then the whole body.
// The entire body is buffered; there is no streaming or chunked output.
func WriteResponse(statusCode int, body any, contentType string) []byte {
	if contentType == "" {
		contentType = "application/json"
	}

	var payload []byte
	switch b := body.(type) {
	case nil:
		payload = nil
	case string:
		payload = []byte(b)
	case []byte:
		payload = b
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			// Marshal failures only happen for non-serializable handler bugs;
			// degrade to a plain 500 body rather than dropping the response.
			statusCode = 500
			encoded = []byte(`{"error":"Internal Server Error","message":"response serialization failed"}`)
		}
		payload = encoded
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", statusCode, reasonPhrase(statusCode))
	fmt.Fprintf(&sb, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(payload))
	for _, h := range corsHeaders {
		fmt.Fprintf(&sb, "%s: %s\r\n", h[0], h[1])
	}
	sb.WriteString("\r\n")
	sb.Write(payload)

	return []byte(sb.String())
}
