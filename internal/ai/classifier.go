// Package ai implements the optional secondary-classification collaborator
// against an OpenAI-compatible chat completions endpoint. Its output only
// ever annotates existing findings.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/engine"
)

const (
	defaultAPIURL  = "https://api.openai.com/v1/chat/completions"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second

	// maxAnomaliesPerCall bounds the prompt size on large statements.
	maxAnomaliesPerCall = 40
)

const systemPrompt = `Tu es un auditeur bancaire expert en frais et agios. ` +
	`On te fournit des anomalies déjà détectées par des règles déterministes. ` +
	`Pour chacune, attribue un label parmi: billing_error, contract_breach, ` +
	`suspected_fraud, explainable. Réponds UNIQUEMENT avec un tableau JSON ` +
	`d'objets {"anomaly_id","label","rationale","confidence"} où confidence ` +
	`est entre 0 et 1. N'invente jamais d'anomalie absente de la liste.`

// Classifier talks to a chat-completions API. A nil *Classifier is the
// disabled state; engines simply skip it.
type Classifier struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

// New builds a classifier from configuration. Returns nil when the
// collaborator is disabled or no API key is set.
func New(cfg domain.AIConfig) *Classifier {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	return &Classifier{
		apiKey:     cfg.APIKey,
		apiURL:     apiURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type annotationPayload struct {
	AnomalyID  string  `json:"anomaly_id"`
	Label      string  `json:"label"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Classify implements engine.Classifier. Errors are returned to the engine,
// which downgrades them to run warnings.
func (c *Classifier) Classify(ctx context.Context, _ []*domain.Transaction, anomalies []domain.Anomaly) ([]engine.Annotation, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}

	content, err := c.complete(ctx, buildPrompt(anomalies))
	if err != nil {
		return nil, fmt.Errorf("ai classification: %w", err)
	}

	payloads, err := parseAnnotations(content)
	if err != nil {
		return nil, fmt.Errorf("ai classification: %w", err)
	}

	out := make([]engine.Annotation, 0, len(payloads))
	for _, p := range payloads {
		conf := p.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, engine.Annotation{
			AnomalyID: p.AnomalyID,
			Note: domain.AIAnnotation{
				Label:      p.Label,
				Rationale:  p.Rationale,
				Confidence: conf,
				Model:      c.model,
			},
		})
	}

	slog.Debug("ai classification returned", "annotations", len(out), "anomalies", len(anomalies))
	return out, nil
}

// buildPrompt renders the anomaly digest handed to the model. Only facts
// already in the findings are exposed; raw statements stay local.
func buildPrompt(anomalies []domain.Anomaly) string {
	n := len(anomalies)
	if n > maxAnomaliesPerCall {
		n = maxAnomaliesPerCall
	}

	var b strings.Builder
	b.WriteString("Anomalies détectées:\n")
	for _, a := range anomalies[:n] {
		fmt.Fprintf(&b, "- id=%s type=%s montant=%.2f confiance=%.2f sévérité=%s",
			a.ID, a.Type, a.Amount, a.Confidence, a.Severity)
		if len(a.Evidence) > 0 {
			fmt.Fprintf(&b, " preuve=%q", a.Evidence[0].Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *Classifier) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 1500,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("api status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseAnnotations extracts the JSON array from the completion, tolerating
// markdown fences and surrounding prose.
func parseAnnotations(content string) ([]annotationPayload, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in completion")
	}

	var payloads []annotationPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payloads); err != nil {
		return nil, fmt.Errorf("malformed annotations: %w", err)
	}
	return payloads, nil
}
