package overlay

import (
	"bytes"
	"strings"
)

// HostElementID is the id of the overlay host element in the page. It doubles
// as the injection idempotency marker: a body that already carries it is
// never injected twice.
const HostElementID = "neurosense-decoder-root"

// SocketPath is the websocket endpoint the bootstrap script connects to,
// relative to the proxied origin.
const SocketPath = "/__decoder/ws"

// ShouldInject reports whether a response with this content type should get
// the bootstrap script.
func ShouldInject(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

// Inject inserts the given bootstrap script into an HTML body. Preferred
// position is before </head>; real-world markup is messy, so it falls back
// through after <head>, after <body>, after <html>, and finally prepending.
// Injection is idempotent: a body already carrying the host element id passes
// through untouched.
func Inject(body []byte, bootstrap string) []byte {
	if bytes.Contains(body, []byte(HostElementID)) {
		return body
	}
	script := []byte(bootstrap)

	if idx := bytes.Index(body, []byte("</head>")); idx != -1 {
		return spliceAt(body, script, idx)
	}
	if idx := bytes.Index(body, []byte("<head>")); idx != -1 {
		return spliceAt(body, script, idx+len("<head>"))
	}
	if at, ok := afterOpenTag(body, "<body"); ok {
		return spliceAt(body, script, at)
	}
	if at, ok := afterOpenTag(body, "<html"); ok {
		return spliceAt(body, script, at)
	}
	return append(append(make([]byte, 0, len(script)+len(body)), script...), body...)
}

// afterOpenTag finds the position just past the closing ">" of an opening
// tag, tolerating attributes on the tag.
func afterOpenTag(body []byte, tag string) (int, bool) {
	idx := bytes.Index(body, []byte(tag))
	if idx == -1 {
		return 0, false
	}
	end := bytes.IndexByte(body[idx:], '>')
	if end == -1 {
		return 0, false
	}
	return idx + end + 1, true
}

func spliceAt(body, script []byte, at int) []byte {
	out := make([]byte, 0, len(body)+len(script))
	out = append(out, body[:at]...)
	out = append(out, script...)
	out = append(out, body[at:]...)
	return out
}
