package utils

import (
	"net/url"
	"strings"
)

// CanonicalHostname returns a hostname in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot
func CanonicalHostname(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// HostnameOf returns the canonical hostname of rawURL, or "" when rawURL
// cannot be parsed or carries no host.
func HostnameOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return CanonicalHostname(u.Hostname())
}

// NormalizeHostname reduces a user-supplied identifier to the hostname it
// names. Bare hostnames are parsed as if prefixed with "https://". When no
// hostname can be extracted the input is returned unchanged.
func NormalizeHostname(raw string) string {
	candidate := raw
	if !strings.HasPrefix(raw, "http") {
		candidate = "https://" + raw
	}
	if host := HostnameOf(candidate); host != "" {
		return host
	}
	return raw
}

// DecodeURL percent-decodes a navigated URL. Malformed escapes leave the
// input untouched.
func DecodeURL(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// IsHTTPURL reports whether raw parses as an absolute http or https URL with a host.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
