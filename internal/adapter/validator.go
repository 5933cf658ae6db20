package adapter

import "strings"

// NormalizeValidator prepares a stored ETag for an If-None-Match header.
// Stored tokens may or may not be quoted and may carry a weak prefix; the
// upstream compares header bytes exactly, so the result is always "tok" or
// W/"tok". An empty token yields "" (send no header).
func NormalizeValidator(v string) string {
	e := strings.TrimSpace(v)
	if e == "" {
		return ""
	}

	weak := false
	if strings.HasPrefix(e, "W/") || strings.HasPrefix(e, "w/") {
		weak = true
		e = strings.TrimSpace(e[2:])
	}

	if len(e) >= 2 && e[0] == '"' && e[len(e)-1] == '"' {
		e = e[1 : len(e)-1]
	}

	quoted := `"` + e + `"`
	if weak {
		return "W/" + quoted
	}
	return quoted
}
