package mockprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/provider"
)

func TestMockClassifierRoundTrip(t *testing.T) {
	t.Setenv("MOCK_DELAY_MS", "0")
	shutdown, baseURL, err := StartMockClassifier("127.0.0.1:0")
	if err != nil {
		t.Skipf("start mock classifier: %v", err)
	}
	defer shutdown(context.Background())

	clf := provider.NewHTTP(baseURL, "", "", time.Second, 0)
	res, err := clf.Classify(context.Background(), provider.Request{Text: "I will kill you, idiot", PIIRedact: true})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(res.Categories) != len(Categories) {
		t.Fatalf("expected %d categories, got %d", len(Categories), len(res.Categories))
	}
	if res.Model == nil || res.Model.Name != ModelName {
		t.Fatalf("unexpected model %+v", res.Model)
	}
	scores := map[string]float64{}
	for _, c := range res.Categories {
		scores[c.Name] = c.Score
	}
	if scores["violence_threat"] < 0.45 || scores["insult"] < 0.45 {
		t.Fatalf("lexicon hits not scored: %v", scores)
	}
	if scores["toxicity"] != scores["violence_threat"] && scores["toxicity"] != scores["insult"] {
		t.Fatalf("toxicity should track the highest category: %v", scores)
	}
}

func TestClassifyRedactsEmails(t *testing.T) {
	out := Classify("write to a.b@example.com", true)
	spans, ok := out.Explain["pii_spans"].([]PIISpan)
	if !ok || len(spans) != 1 || spans[0].EntityType != "EMAIL_ADDRESS" {
		t.Fatalf("unexpected spans %#v", out.Explain["pii_spans"])
	}
	for _, c := range out.Categories {
		if c.Score < 0 || c.Score > 1 {
			t.Fatalf("score out of range: %+v", c)
		}
	}
}

func TestHandlerRejectsBadInput(t *testing.T) {
	shutdown, baseURL, err := StartMockClassifier("127.0.0.1:0")
	if err != nil {
		t.Skipf("start mock classifier: %v", err)
	}
	defer shutdown(context.Background())

	resp, err := http.Post(baseURL+"/classify", "application/json", bytes.NewReader([]byte(`{"text":""}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Message == "" {
		t.Fatalf("expected error envelope, err=%v", err)
	}
}
