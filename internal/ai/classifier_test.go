package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opensource-audit/harrier/internal/domain"
)

func TestNewDisabledWithoutKey(t *testing.T) {
	if c := New(domain.AIConfig{Enabled: true}); c != nil {
		t.Error("classifier built without an API key")
	}
	if c := New(domain.AIConfig{Enabled: false, APIKey: "sk-test"}); c != nil {
		t.Error("classifier built while disabled")
	}
	if c := New(domain.AIConfig{Enabled: true, APIKey: "sk-test"}); c == nil {
		t.Error("classifier not built with key and enabled flag")
	}
}

func TestParseAnnotations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			name:    "bare array",
			content: `[{"anomaly_id":"a-1","label":"billing_error","confidence":0.9}]`,
			want:    1,
		},
		{
			name: "fenced with prose",
			content: "Voici l'analyse:\n```json\n" +
				`[{"anomaly_id":"a-1","label":"explainable","confidence":0.4},` +
				`{"anomaly_id":"a-2","label":"contract_breach","confidence":0.8}]` +
				"\n```\nBonne journée.",
			want: 2,
		},
		{
			name:    "no array",
			content: "je ne peux pas répondre",
			wantErr: true,
		},
		{
			name:    "malformed json",
			content: `[{"anomaly_id": }]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnnotations(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("parsed %d annotations, want %d", len(got), tt.want)
			}
		})
	}
}

func TestClassifyAgainstStubServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "a-1") {
			t.Errorf("prompt missing anomaly digest: %+v", req.Messages)
		}

		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{
			Role:    "assistant",
			Content: `[{"anomaly_id":"a-1","label":"billing_error","rationale":"frais identiques rapprochés","confidence":1.4}]`,
		}})
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(domain.AIConfig{Enabled: true, APIKey: "sk-test", APIURL: srv.URL, Model: "test-model"})
	anomalies := []domain.Anomaly{{
		ID:     "a-1",
		Type:   domain.AnomalyDuplicateFee,
		Amount: 5000,
		Evidence: []domain.Evidence{
			{Kind: domain.EvidenceSimilarity, Description: "libellés identiques"},
		},
	}}

	got, err := c.Classify(context.Background(), nil, anomalies)
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d annotations, want 1", len(got))
	}
	ann := got[0]
	if ann.AnomalyID != "a-1" || ann.Note.Label != "billing_error" {
		t.Errorf("annotation = %+v", ann)
	}
	if ann.Note.Confidence != 1 {
		t.Errorf("confidence = %.2f, want clamped to 1", ann.Note.Confidence)
	}
	if ann.Note.Model != "test-model" {
		t.Errorf("model = %s", ann.Note.Model)
	}
}

func TestClassifyUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(domain.AIConfig{Enabled: true, APIKey: "sk-test", APIURL: srv.URL})
	_, err := c.Classify(context.Background(), nil, []domain.Anomaly{{ID: "a-1"}})
	if err == nil {
		t.Fatal("expected upstream error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestClassifyNoAnomaliesSkipsCall(t *testing.T) {
	c := New(domain.AIConfig{Enabled: true, APIKey: "sk-test", APIURL: "http://127.0.0.1:1"})
	got, err := c.Classify(context.Background(), nil, nil)
	if err != nil || got != nil {
		t.Errorf("empty input should be a no-op, got %v, %v", got, err)
	}
}
