package gateway

import (
	"net/http"
	"net/url"
	"strings"
)

// checkOrigin validates the Origin header on WebSocket upgrades to block
// cross-site WebSocket hijacking. Non-browser clients without an Origin
// header are allowed, as are localhost origins and any origin whose host
// matches the request's Host header.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, prefix := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return originURL.Hostname() == stripPort(host)
}

// stripPort removes a trailing :port, leaving IPv6 bracket notation intact.
func stripPort(host string) string {
	colon := strings.LastIndex(host, ":")
	if colon == -1 {
		return host
	}
	if bracket := strings.Index(host, "]"); bracket != -1 && colon < bracket {
		return host
	}
	return host[:colon]
}
