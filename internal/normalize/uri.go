package normalize

import (
	"net"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
}

// URI returns a canonical string for raw: scheme and host lower-cased,
// default ports and a bare trailing slash removed. Opaque URIs (xmpp:,
// sip:, mailto:) keep their body verbatim. Unparseable input is returned
// trimmed.
func URI(raw string) string {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Opaque != "" {
		return u.String()
	}
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil && defaultPorts[u.Scheme] == port {
		host = h
	}
	u.Host = host
	if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
		u.Path = ""
	}
	return u.String()
}
