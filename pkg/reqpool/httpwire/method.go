package httpwire

import "strings"

// IsHead reports whether method is the HTTP HEAD method, case-insensitively.
// Per spec.md §4.3, HEAD responses never carry a body even when
// Content-Length is present, so the state machine must not wait for bytes
// that will never arrive.
func IsHead(method string) bool {
	return strings.EqualFold(method, "HEAD")
}
