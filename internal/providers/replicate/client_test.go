package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunPollsUntilSucceeded(t *testing.T) {
	var gotAuth string
	var gotInput map[string]any
	polls := 0
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/models/black-forest-labs/flux-schnell/predictions", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body createPredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode create request: %v", err)
		}
		gotInput = body.Input
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Prediction{ID: "pred-1", Status: "starting"})
	})
	mux.HandleFunc("/predictions/pred-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 3 {
			json.NewEncoder(w).Encode(Prediction{ID: "pred-1", Status: "processing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "pred-1",
			"status": "succeeded",
			"output": []string{"https://replicate.delivery/out-1.png", "https://replicate.delivery/out-2.png"},
		})
	})

	client, err := NewClient(Options{
		APIToken:     "r8_test",
		BaseURL:      server.URL,
		HTTPClient:   server.Client(),
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	prediction, err := client.Run(context.Background(), "black-forest-labs/flux-schnell", map[string]any{
		"prompt":      "a fox",
		"num_outputs": 2,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !prediction.Succeeded() {
		t.Fatalf("status = %q, want succeeded", prediction.Status)
	}
	urls := prediction.OutputURLs()
	if len(urls) != 2 {
		t.Fatalf("len(urls) = %d, want 2", len(urls))
	}
	if urls[0] != "https://replicate.delivery/out-1.png" {
		t.Fatalf("urls[0] = %q", urls[0])
	}
	if polls != 3 {
		t.Fatalf("polls = %d, want 3", polls)
	}
	if gotAuth != "Token r8_test" {
		t.Fatalf("authorization = %q, want Token r8_test", gotAuth)
	}
	if gotInput["prompt"] != "a fox" {
		t.Fatalf("input prompt = %v", gotInput["prompt"])
	}
}

func TestRunSurfacesFailedPrediction(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/models/nightmareai/real-esrgan/predictions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Prediction{ID: "pred-2", Status: "starting"})
	})
	mux.HandleFunc("/predictions/pred-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{ID: "pred-2", Status: "failed", Error: "CUDA out of memory"})
	})

	client, err := NewClient(Options{
		APIToken:     "r8_test",
		BaseURL:      server.URL,
		HTTPClient:   server.Client(),
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Run(context.Background(), "nightmareai/real-esrgan", map[string]any{"image": "https://example.com/in.png"})
	if err == nil {
		t.Fatalf("Run() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("error = %v, want model error detail", err)
	}
}

func TestCreatePredictionSurfacesAPIDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"detail": "Invalid token."})
	}))
	defer server.Close()

	client, err := NewClient(Options{APIToken: "bad", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.CreatePrediction(context.Background(), "owner/model", map[string]any{"prompt": "x"})
	if err == nil || !strings.Contains(err.Error(), "Invalid token.") {
		t.Fatalf("CreatePrediction() error = %v, want detail", err)
	}
}

func TestCreatePredictionRequiresToken(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.HasCredentials() {
		t.Fatalf("HasCredentials() = true, want false")
	}
	if _, err := client.CreatePrediction(context.Background(), "owner/model", nil); err != ErrMissingAPIToken {
		t.Fatalf("CreatePrediction() error = %v, want ErrMissingAPIToken", err)
	}
}

func TestOutputURLsDecodesSingleString(t *testing.T) {
	p := &Prediction{Output: json.RawMessage(`"https://replicate.delivery/single.png"`)}
	urls := p.OutputURLs()
	if len(urls) != 1 || urls[0] != "https://replicate.delivery/single.png" {
		t.Fatalf("urls = %v, want single entry", urls)
	}
	empty := &Prediction{}
	if got := empty.OutputURLs(); got != nil {
		t.Fatalf("empty output urls = %v, want nil", got)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/predictions/pred-3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{ID: "pred-3", Status: "processing"})
	})

	client, err := NewClient(Options{
		APIToken:     "r8_test",
		BaseURL:      server.URL,
		HTTPClient:   server.Client(),
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = client.Wait(ctx, "pred-3")
	if err == nil {
		t.Fatalf("Wait() error = nil, want deadline error")
	}
}
