package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// InstrumentHTTP observes every request into HTTPRequestDuration,
// labeled by the matched mux route template (so /vaults/{vault_id}
// aggregates across vault IDs instead of exploding into one series
// per vault) rather than the raw, unmatched path.
func InstrumentHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if matched := mux.CurrentRoute(r); matched != nil {
				if tmpl, err := matched.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			HTTPRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}
