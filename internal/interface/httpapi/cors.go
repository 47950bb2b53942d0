package httpapi

import (
	"net/http"
	"slices"
)

// cors は許可されたオリジンにのみ CORS ヘッダーを付与する
type cors struct {
	origins  []string
	allowAll bool
}

func newCORS(origins []string) *cors {
	return &cors{
		origins:  origins,
		allowAll: slices.Contains(origins, "*"),
	}
}

func (c *cors) allowed(origin string) bool {
	return c.allowAll || slices.Contains(c.origins, origin)
}

func (c *cors) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.allowed(origin) {
			h := w.Header()
			if c.allowAll {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Expose-Headers", headerRequestID)
		}

		// プリフライト
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
