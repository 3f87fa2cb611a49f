package console

import (
	_ "embed"
	"net/http"
)

// Robots header sent with every console response.
const (
	RobotsTagHeader = "X-Robots-Tag"
	RobotsTagValue  = "noindex, nofollow"
)

//go:embed console.html
var consoleHTML []byte

// Handler serves the single-page moderation console. The page posts to
// /v1/moderations on the same origin and renders the returned verdict.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RobotsTagHeader, RobotsTagValue)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'unsafe-inline'; style-src 'unsafe-inline'")
		_, _ = w.Write(consoleHTML)
	})
}
