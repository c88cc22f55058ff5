package httpwire

import "github.com/valyala/bytebufferpool"

// WriteRequest serializes an HTTP/1.1 request line and header block into buf,
// per spec.md §4.3: request line, then caller headers in insertion order,
// terminated by a bare CRLF. No request body is written — this engine's
// core does not support one (spec.md §3).
//
// host and userAgent are applied as the first two headers before extra.
// Host is derived by Session and always wins, exactly as spec.md's "Open
// question" resolution requires: it cannot be shadowed by a caller-supplied
// value. User-Agent is only a default: a caller-supplied value in extra
// substitutes for it.
func WriteRequest(buf *bytebufferpool.ByteBuffer, method, path, host, userAgent string, extra *Headers) {
	buf.WriteString(method)
	buf.WriteString(" ")
	buf.WriteString(path)
	buf.WriteString(" HTTP/1.1\r\n")

	buf.WriteString("Host: ")
	buf.WriteString(host)
	buf.WriteString("\r\n")

	if extra != nil {
		if v, ok := extra.Get("User-Agent"); ok {
			userAgent = v
		}
	}
	buf.WriteString("User-Agent: ")
	buf.WriteString(userAgent)
	buf.WriteString("\r\n")

	if extra != nil {
		extra.Each(func(name, value string) {
			if isHopHeaderOverride(name) {
				return
			}
			buf.WriteString(name)
			buf.WriteString(": ")
			buf.WriteString(value)
			buf.WriteString("\r\n")
		})
	}

	buf.WriteString("\r\n")
}

// isHopHeaderOverride reports whether name is one of the headers WriteRequest
// already wrote explicitly, so the extra loop must not emit it a second
// time. Host is always derived and never overridable; User-Agent's
// caller-supplied value (if any) has already been folded into the explicit
// header above, so it is filtered here too.
func isHopHeaderOverride(name string) bool {
	return equalFold(name, "Host") || equalFold(name, "User-Agent")
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
