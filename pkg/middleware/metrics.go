// Package middleware holds the HTTP middleware shared by the retriever and
// analytics services.
package middleware

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/metrics"
)

// Metrics instruments requests with the promhttp helpers, labelling each by
// its normalized path.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerInFlight(m.HTTPRequestsInFlight,
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path := prometheus.Labels{"path": normalizePath(r.URL.Path)}
				h := promhttp.InstrumentHandlerDuration(m.HTTPRequestDuration.MustCurryWith(path),
					promhttp.InstrumentHandlerCounter(m.HTTPRequestsTotal.MustCurryWith(path), next))
				h.ServeHTTP(w, r)
			}))
	}
}

// normalizePath keeps metric label cardinality bounded: anything outside the
// known API prefixes is reported as "other".
func normalizePath(path string) string {
	for _, prefix := range []string{"/api/v1/", "/health/", "/metrics"} {
		if strings.HasPrefix(path, prefix) {
			return path
		}
	}
	return "other"
}
