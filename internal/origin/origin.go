// Package origin implements the browser Origin policy shared by the HTTP API
// and the signaling WebSocket upgrader.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Origin is a normalized scheme://host[:port] triple. Default ports are
// dropped so that "https://a.test" and "https://a.test:443" compare equal.
type Origin struct {
	Scheme   string
	Hostname string
	Port     int

	opaque bool
}

// String renders o in its serialized form ("null" for opaque origins).
func (o Origin) String() string {
	if o.opaque {
		return "null"
	}
	return o.Scheme + "://" + o.Host()
}

// Host returns host[:port], bracketing IPv6 literals.
func (o Origin) Host() string {
	if o.opaque {
		return ""
	}
	return joinHost(o.Hostname, o.Port)
}

func (o Origin) Opaque() bool { return o.opaque }

// Parse validates a serialized origin as sent in the Origin header.
func Parse(raw string) (Origin, bool) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return Origin{}, false
	case "null":
		return Origin{opaque: true}, true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Opaque != "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return Origin{}, false
	}
	if u.Path != "" && u.Path != "/" {
		return Origin{}, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Origin{}, false
	}
	hostname, port, ok := parseAuthority(u.Host, scheme)
	if !ok {
		return Origin{}, false
	}
	return Origin{Scheme: scheme, Hostname: hostname, Port: port}, true
}

// Policy decides whether a browser origin may use the relay.
//
// With an empty allow list only same-host requests pass; scheme is not
// compared because TLS is commonly terminated in front of the relay.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a policy from configured origins. "*" allows every origin.
// Entries that do not parse are ignored; config validation rejects them first.
func NewPolicy(allowed []string) Policy {
	p := Policy{allowed: make(map[string]struct{}, len(allowed))}
	for _, raw := range allowed {
		if strings.TrimSpace(raw) == "*" {
			p.any = true
			continue
		}
		if o, ok := Parse(raw); ok {
			p.allowed[o.String()] = struct{}{}
		}
	}
	return p
}

func (p Policy) AllowsAny() bool { return p.any }

// Allow reports whether originHeader may reach a server addressed as
// requestHost. Requests without an Origin header come from non-browser
// clients and are allowed.
func (p Policy) Allow(originHeader, requestHost string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	o, ok := Parse(originHeader)
	if !ok {
		return false
	}
	if p.any {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[o.String()]
		return ok
	}
	if o.Opaque() {
		return false
	}
	hostname, port, ok := parseAuthority(strings.TrimSpace(requestHost), o.Scheme)
	if !ok {
		return false
	}
	return o.Host() == joinHost(hostname, port)
}

// CheckRequest has the shape of websocket.Upgrader.CheckOrigin.
func (p Policy) CheckRequest(r *http.Request) bool {
	return p.Allow(r.Header.Get("Origin"), r.Host)
}

func parseAuthority(authority, scheme string) (hostname string, port int, ok bool) {
	if authority == "" {
		return "", 0, false
	}
	u, err := url.Parse("//" + authority)
	if err != nil || u.Host != authority || u.User != nil {
		return "", 0, false
	}
	hostname = strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", 0, false
	}
	if strings.Contains(hostname, ":") && !strings.HasPrefix(authority, "[") {
		return "", 0, false
	}
	if raw := u.Port(); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || n == 0 {
			return "", 0, false
		}
		port = int(n)
	} else if strings.HasSuffix(authority, ":") {
		return "", 0, false
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}
	return hostname, port, true
}

func joinHost(hostname string, port int) string {
	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.Itoa(port)
	}
	return host
}
