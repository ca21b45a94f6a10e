package shield

import "net/http"

// MaxBody caps every request body at maxBytes with http.MaxBytesReader.
// Handlers see *http.MaxBytesError once the cap is hit. maxBytes <= 0
// leaves bodies untouched.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
