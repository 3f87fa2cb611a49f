package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/omar-gamzatov/content-guardian/internal/activation"
	"github.com/omar-gamzatov/content-guardian/internal/redact"
)

const maxEventBytes = 1 << 20

func main() {
	addr := flag.String("addr", ":8099", "listen address for activation receiver")
	verbose := flag.Bool("v", false, "log the full event body")
	flag.Parse()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(*verbose),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("activation receiver listening on %s (POST JSON to /activation)...", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("receiver error: %v", err)
	}
}

func newRouter(verbose bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	h := &receiver{verbose: verbose}
	r.Post("/activation", h.handle)
	r.Post("/", h.handle)
	return r
}

type receiver struct {
	verbose bool
}

func (h *receiver) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, `{"status":"error","message":"body too large"}`, http.StatusRequestEntityTooLarge)
		return
	}

	var ev activation.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("rejected activation payload: %v", err)
		http.Error(w, `{"status":"error","message":"invalid event"}`, http.StatusBadRequest)
		return
	}

	redact.Logf("activation: request=%s tenant=%s endpoint=%s policy=%s action=%s severity=%s categories=%s max_score=%.2f cached=%v",
		ev.RequestID, ev.TenantID, ev.Endpoint, ev.PolicyVersion,
		ev.Summary.Action, ev.Summary.Severity, strings.Join(ev.Summary.Categories, ","), ev.Summary.MaxScore, ev.Cached)
	if h.verbose {
		redact.Logf("activation body: %s", body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
}
