package middleware

import (
	"net/http"
	"time"

	"github.com/laborar/portal/pkg"

	log "github.com/sirupsen/logrus"
)

func LogRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			resp := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(resp, r)

			log.WithFields(log.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   resp.statusCode,
				"ip":       pkg.ReadUserIP(r),
				"duration": time.Since(start).String(),
			}).Tracef(" ====> request [%s] path: [%s] [UA: %s]", r.Method, r.URL.Path, r.UserAgent())
		})
	}
}
