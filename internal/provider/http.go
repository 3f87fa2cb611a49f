package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

// httpClassifier implements Classifier for a scoring service exposing
// POST {base}/classify.
type httpClassifier struct {
	baseURL          string
	apiKey           string
	modelName        string
	client           *http.Client
	maxResponseBytes int64
}

// NewHTTP creates a classifier client. modelName is reported when the
// service does not name its model.
func NewHTTP(baseURL, apiKey, modelName string, timeout time.Duration, maxResponseBytes int64) Classifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = 1 << 20
	}

	return &httpClassifier{
		baseURL:          strings.TrimRight(baseURL, "/"),
		apiKey:           apiKey,
		modelName:        modelName,
		maxResponseBytes: maxResponseBytes,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type classifyRequest struct {
	Text      string `json:"text"`
	Lang      string `json:"lang,omitempty"`
	PIIRedact bool   `json:"pii_redact"`
}

type classifyCategory struct {
	Name  string   `json:"name"`
	Score *float64 `json:"score"`
}

type classifyResponse struct {
	Categories []classifyCategory `json:"categories"`
	Explain    map[string]any     `json:"explain"`
}

type classifyErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	Detail any `json:"detail"`
}

func (p *httpClassifier) Classify(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(classifyRequest{Text: req.Text, Lang: req.Lang, PIIRedact: req.PIIRedact})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.baseURL+"/classify",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("create classify request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read classifier response: %w", err)
	}
	if int64(len(respBody)) > p.maxResponseBytes {
		return nil, fmt.Errorf("classifier response exceeded limit (%d bytes)", p.maxResponseBytes)
	}

	if resp.StatusCode >= 400 {
		var errBody classifyErrorResponse
		if err := json.Unmarshal(respBody, &errBody); err == nil && errBody.Error.Message != "" {
			return nil, fmt.Errorf("classifier error status %d: %s (type=%s)", resp.StatusCode, errBody.Error.Message, errBody.Error.Type)
		}
		return nil, fmt.Errorf("classifier error status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}

	res := &Result{Categories: make([]verdict.CategoryScore, 0, len(out.Categories))}
	for i, c := range out.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("classifier category %d has no name", i)
		}
		if c.Score == nil || math.IsNaN(*c.Score) {
			return nil, fmt.Errorf("classifier category %q has no score", name)
		}
		// Range is checked by the aggregator, which may clamp when configured.
		res.Categories = append(res.Categories, verdict.CategoryScore{
			Name:   name,
			Score:  *c.Score,
			Source: verdict.SourceModel,
		})
	}
	res.Model = p.modelInfo(out.Explain)
	return res, nil
}

func (p *httpClassifier) modelInfo(explain map[string]any) *verdict.ModelInfo {
	name, _ := explain["model"].(string)
	if name == "" {
		name = p.modelName
	}
	if name == "" {
		return nil
	}
	info := &verdict.ModelInfo{Name: name}
	for k, v := range explain {
		if k == "model" {
			continue
		}
		if info.Details == nil {
			info.Details = make(map[string]any, len(explain))
		}
		info.Details[k] = v
	}
	return info
}
