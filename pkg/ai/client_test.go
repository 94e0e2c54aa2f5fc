package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestComplete(t *testing.T) {
	var gotKey, gotVersion string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "the answer"}},
		})
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL, APIKey: "sk-test", HTTPClient: srv.Client()}
	out, err := c.Complete(context.Background(), "be brief", "what happened?")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "the answer" {
		t.Fatalf("got %q", out)
	}
	if gotKey != "sk-test" || gotVersion != "2023-06-01" {
		t.Fatalf("headers: key=%q version=%q", gotKey, gotVersion)
	}
	if gotReq["model"] != DefaultModel || gotReq["system"] != "be brief" {
		t.Fatalf("request = %v", gotReq)
	}
	if gotReq["max_tokens"] != float64(DefaultMaxTokens) {
		t.Fatalf("max_tokens = %v", gotReq["max_tokens"])
	}
	msgs, _ := gotReq["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", gotReq["messages"])
	}
	m, _ := msgs[0].(map[string]any)
	if m["role"] != "user" || m["content"] != "what happened?" {
		t.Fatalf("message = %v", m)
	}
}

func TestComplete_MissingKey(t *testing.T) {
	c := &Client{}
	if _, err := c.Complete(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected an error without an api key")
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL, APIKey: "sk-test", HTTPClient: srv.Client()}
	if _, err := c.Complete(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected an error on HTTP 429")
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	}))
	defer srv.Close()

	c := &Client{URL: srv.URL, APIKey: "sk-test", HTTPClient: srv.Client()}
	if _, err := c.Complete(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected an error for an empty content list")
	}
}
