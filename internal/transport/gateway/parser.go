package gateway

import "strings"

// headerTerminator marks the end of the header block.
const headerTerminator = "\r\n\r\n"

// Request is one parsed HTTP request frame. Header keys are lower-cased.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    string
}

// Parse determines whether buf holds a complete request and parses it.
// A request is complete once the header terminator appears anywhere in buf.
// Returns ok=false both while the frame is incomplete and when the request
// line is malformed; callers keep accumulating bytes in either case.
//
// Known limitation carried over from the reference protocol: Content-Length
// is not consulted, chunked transfer encoding is not supported, and a body
// containing the terminator sequence is truncated at its first occurrence
// relative to header parsing. Adequate for small JSON payloads on a trusted
// LAN; clients must send each request in full before expecting a response.
func Parse(buf []byte) (Request, bool) {
	data := string(buf)
	if !strings.Contains(data, headerTerminator) {
		return Request{}, false
	}

	lines := strings.Split(data, "\r\n")

	tokens := strings.Fields(lines[0])
	if len(tokens) < 2 {
		return Request{}, false
	}
	method, path := tokens[0], tokens[1]

	headers := make(map[string]string)
	bodyStart := 1
	for i := 1; i < len(lines); i++ {
		if lines[i] == "" {
			bodyStart = i + 1
			break
		}
		colon := strings.Index(lines[i], ":")
		if colon <= 0 {
			// Not a header line; tolerated rather than rejected.
			continue
		}
		key := strings.ToLower(strings.TrimSpace(lines[i][:colon]))
		headers[key] = strings.TrimSpace(lines[i][colon+1:])
	}

	body := strings.Join(lines[bodyStart:], "\r\n")

	return Request{
		Method:  method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, true
}
