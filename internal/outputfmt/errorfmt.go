package outputfmt

import (
	"net/url"
	"regexp"
	"strings"
)

var absoluteURLRE = regexp.MustCompile(`https?://[^\s"'<>]+`)

// FormatErrorForDisplay renders an error for persisted status notes and
// CLI output. Gateway and provider errors embed full request URLs; the
// host is dropped and credential-bearing query values are redacted so a
// note stays safe to list and to paste into reports.
func FormatErrorForDisplay(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeErrorText(err.Error())
}

// SanitizeErrorText removes URL hosts from arbitrary text, keeping the
// path, query, and fragment.
func SanitizeErrorText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return absoluteURLRE.ReplaceAllStringFunc(raw, stripURLHost)
}

func stripURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	out := u.EscapedPath()
	if out == "" {
		out = "/"
	}
	if q := redactQuery(u.Query()); q != "" {
		out += "?" + q
	}
	if frag := strings.TrimSpace(u.EscapedFragment()); frag != "" {
		out += "#" + frag
	}
	return out
}

func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	for k := range q {
		if sensitiveQueryKey(k) {
			q.Set(k, "[redacted]")
		}
	}
	return q.Encode()
}

func sensitiveQueryKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	k = strings.ReplaceAll(strings.ReplaceAll(k, "-", ""), "_", "")
	if k == "key" {
		return true
	}
	for _, marker := range []string{"apikey", "authorization", "token", "secret", "password", "cookie"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}
