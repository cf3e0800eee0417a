package middleware

import (
	"net/http"

	"github.com/unrolled/secure"
)

// helmetExtras are the hardening headers secure.Options has no field for.
var helmetExtras = map[string]string{
	"X-DNS-Prefetch-Control":            "off",
	"X-Download-Options":                "noopen",
	"X-Permitted-Cross-Domain-Policies": "none",
	"Cross-Origin-Resource-Policy":      "same-origin",
	"Origin-Agent-Cluster":              "?1",
}

func secureOptions(hsts bool) secure.Options {
	opts := secure.Options{
		FrameDeny:               true,
		CustomFrameOptionsValue: "SAMEORIGIN",
		ContentTypeNosniff:      true,
		BrowserXssFilter:        true,
		CustomBrowserXssValue:   "0",
		ReferrerPolicy:          "no-referrer",
		CrossOriginOpenerPolicy: "same-origin",
	}
	if hsts {
		opts.STSSeconds = 15552000
		opts.STSIncludeSubdomains = true
		// TLS ends at the proxy, the request here is plain http
		opts.ForceSTSHeader = true
	}
	return opts
}

// SecureHeaders sets the usual hardening response headers. No
// Content-Security-Policy is sent, the pages use inline scripts.
func SecureHeaders(hsts bool) func(next http.Handler) http.Handler {
	sm := secure.New(secureOptions(hsts))
	return func(next http.Handler) http.Handler {
		withExtras := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range helmetExtras {
				h.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
		return sm.Handler(withExtras)
	}
}
