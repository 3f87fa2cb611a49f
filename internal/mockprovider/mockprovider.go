package mockprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort    = 18090
	defaultDelayMS = 20

	// ModelName is reported in explain.model.
	ModelName = "mock-detoxify"
)

// Categories scored by the mock classifier, in response order.
var Categories = []string{"toxicity", "identity_attack", "violence_threat", "sexual_explicit", "profanity", "insult"}

var lexicon = map[string][]string{
	"violence_threat": {"kill", "hurt", "shoot", "find you"},
	"insult":          {"idiot", "stupid", "moron", "loser"},
	"profanity":       {"damn", "crap"},
	"identity_attack": {"your kind", "go back to"},
	"sexual_explicit": {"nsfw", "explicit"},
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// StartMockClassifier launches a deterministic classifier speaking the
// POST /classify protocol. Scores come from a small keyword lexicon, so tests
// and local runs get stable verdicts without a real model.
// If addr is empty, it listens on 127.0.0.1:MOCK_CLASSIFIER_PORT (default 18090).
// It returns a shutdown function and the base URL.
func StartMockClassifier(addr string) (func(context.Context) error, string, error) {
	if strings.TrimSpace(addr) == "" {
		port := strings.TrimSpace(os.Getenv("MOCK_CLASSIFIER_PORT"))
		if port == "" {
			port = fmt.Sprintf("%d", defaultPort)
		}
		addr = "127.0.0.1:" + port
	}

	delay := defaultDelayMS
	if val := strings.TrimSpace(os.Getenv("MOCK_DELAY_MS")); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			delay = parsed
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           Handler(time.Duration(delay) * time.Millisecond),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("mock classifier server error: %v", err)
		}
	}()

	baseURL := "http://" + ln.Addr().String()
	log.Printf("mock classifier listening on %s (delay_ms=%d)", baseURL, delay)
	return srv.Shutdown, baseURL, nil
}

// Handler serves /classify and /healthz. delay is applied to every
// classification.
func Handler(delay time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/classify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var in classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Text) == "" {
			writeErrorJSON(w, http.StatusUnprocessableEntity, "text is required")
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Classify(in.Text, in.PIIRedact))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeErrorJSON(w, http.StatusNotFound, "Not found")
	})
	return mux
}

type classifyRequest struct {
	Text      string `json:"text"`
	Lang      string `json:"lang"`
	PIIRedact bool   `json:"pii_redact"`
}

// Category is one scored category in the response.
type Category struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// PIISpan marks a redacted region of the input.
type PIISpan struct {
	EntityType string `json:"entity_type"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Response is the /classify response body.
type Response struct {
	Categories []Category     `json:"categories"`
	Explain    map[string]any `json:"explain"`
}

// Classify scores text. Every lexicon hit adds 0.45 to its category,
// capped at 0.99; toxicity is the highest of the others.
func Classify(text string, piiRedact bool) Response {
	spans := []PIISpan{}
	if piiRedact {
		for _, loc := range emailRe.FindAllStringIndex(text, -1) {
			spans = append(spans, PIISpan{EntityType: "EMAIL_ADDRESS", Start: loc[0], End: loc[1]})
		}
		text = emailRe.ReplaceAllString(text, "<EMAIL_ADDRESS>")
	}

	lower := strings.ToLower(text)
	scores := make(map[string]float64, len(Categories))
	toxicity := 0.01
	for cat, words := range lexicon {
		s := 0.01
		for _, w := range words {
			s += 0.45 * float64(strings.Count(lower, w))
		}
		if s > 0.99 {
			s = 0.99
		}
		scores[cat] = s
		if s > toxicity {
			toxicity = s
		}
	}
	scores["toxicity"] = toxicity

	out := Response{
		Categories: make([]Category, 0, len(Categories)),
		Explain:    map[string]any{"model": ModelName, "pii_spans": spans},
	}
	for _, name := range Categories {
		out.Categories = append(out.Categories, Category{Name: name, Score: scores[name], Source: "model"})
	}
	return out
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "invalid_request_error",
		},
	})
}
