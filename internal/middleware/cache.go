package middleware

import (
	"fmt"
	"net/http"
)

// CacheControl lets shared caches serve responses for maxAge seconds and
// serve them stale for another stale seconds while revalidating.
func CacheControl(maxAge, stale int) func(http.Handler) http.Handler {
	value := fmt.Sprintf("s-maxage=%d, stale-while-revalidate=%d", maxAge, stale)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value)
			next.ServeHTTP(w, r)
		})
	}
}
