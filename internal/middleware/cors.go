package middleware

import (
	"net/http"
	"strings"
)

// CORS allows the configured origins. origins is "*" or a comma-separated
// list; a listed request origin is echoed back.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := parseOrigins(origins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			switch reqOrigin := r.Header.Get("Origin"); {
			case allowed["*"]:
				h.Set("Access-Control-Allow-Origin", "*")
			case reqOrigin != "" && allowed[reqOrigin]:
				h.Set("Access-Control-Allow-Origin", reqOrigin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(origins string) map[string]bool {
	out := make(map[string]bool)
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out[strings.TrimRight(o, "/")] = true
		}
	}
	if len(out) == 0 {
		out["*"] = true
	}
	return out
}
