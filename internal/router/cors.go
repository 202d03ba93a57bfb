package router

import (
	"net/http"
	"strings"
)

// defaultCORSHeaders is the default CORS response applied when cors:true
// is configured rather than an explicit header map.
var defaultCORSHeaders = map[string]string{
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Methods":     "GET, POST, HEAD, OPTIONS",
	"Access-Control-Allow-Credentials": "true",
}

// writeCORSHeaders applies wildcard-origin matching and either the default
// or an overridden header set, per matched route rather than globally,
// since the router only fronts agent paths.
func (rt *Router) writeCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(rt.cfg.AllowedOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && !rt.originAllowed(origin) {
		return
	}

	headers := rt.cfg.CORSHeaders
	if headers == nil {
		headers = defaultCORSHeaders
	}
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	if _, ok := headers["Access-Control-Allow-Origin"]; !ok {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
}

// originAllowed supports exact matches, the "*" wildcard, and subdomain
// wildcards of the form "https://*.example.com".
func (rt *Router) originAllowed(origin string) bool {
	for _, allowed := range rt.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if idx := strings.Index(allowed, "*."); idx != -1 {
			prefix := allowed[:idx]
			suffix := allowed[idx+1:]
			if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}
