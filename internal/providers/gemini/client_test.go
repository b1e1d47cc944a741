package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateImagesRequiresAPIKey(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.HasCredentials() {
		t.Fatalf("HasCredentials() = true, want false")
	}
	if _, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "cat"}); err != ErrMissingAPIKey {
		t.Fatalf("GenerateImages() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestGenerateImagesDecodesInlineData(t *testing.T) {
	var gotPath string
	var gotKey string
	var gotReq geminiGenerateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		payload := geminiGenerateContentResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{
					InlineData: &geminiInlineData{
						MimeType: "image/png",
						Data:     base64.StdEncoding.EncodeToString([]byte("png-bytes")),
					},
				}}},
			}},
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client, err := NewClient(Options{
		APIKey:     "secret",
		BaseURL:    server.URL,
		ImageModel: "gemini-2.5-flash-image",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	assets, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "a cat", Count: 2})
	if err != nil {
		t.Fatalf("GenerateImages() error = %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("len(assets) = %d, want 1", len(assets))
	}
	if string(assets[0].Data) != "png-bytes" {
		t.Fatalf("asset data = %q, want png-bytes", assets[0].Data)
	}
	if assets[0].Format != "image/png" {
		t.Fatalf("asset format = %q, want image/png", assets[0].Format)
	}
	if gotPath != "/models/gemini-2.5-flash-image:generateContent" {
		t.Fatalf("request path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Fatalf("api key query = %q, want secret", gotKey)
	}
	if gotReq.ToolConfig == nil || gotReq.ToolConfig.ImageGenerationConfig == nil {
		t.Fatalf("tool_config missing from request")
	}
	if got := gotReq.ToolConfig.ImageGenerationConfig.NumberOfImages; got != 2 {
		t.Fatalf("number_of_images = %d, want 2", got)
	}
}

func TestGenerateImagesIncludesSourceImage(t *testing.T) {
	var gotReq geminiGenerateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		payload := geminiGenerateContentResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{
					InlineData: &geminiInlineData{
						MimeType: "image/png",
						Data:     base64.StdEncoding.EncodeToString([]byte("edited")),
					},
				}}},
			}},
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client, err := NewClient(Options{APIKey: "secret", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	source := &SourceImage{Data: []byte("source-bytes"), MIME: "image/jpeg"}
	if _, err := client.GenerateImages(context.Background(), ImageRequest{Prompt: "make it blue", Source: source}); err != nil {
		t.Fatalf("GenerateImages() error = %v", err)
	}

	if len(gotReq.Contents) != 1 {
		t.Fatalf("len(contents) = %d, want 1", len(gotReq.Contents))
	}
	parts := gotReq.Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if parts[1].InlineData == nil {
		t.Fatalf("second part missing inline data")
	}
	if parts[1].InlineData.MimeType != "image/jpeg" {
		t.Fatalf("source mime = %q, want image/jpeg", parts[1].InlineData.MimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1].InlineData.Data)
	if err != nil {
		t.Fatalf("decode source payload: %v", err)
	}
	if string(decoded) != "source-bytes" {
		t.Fatalf("source payload = %q", decoded)
	}
}

func TestGenerateImagesSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exceeded"},
		})
	}))
	defer server.Close()

	client, err := NewClient(Options{APIKey: "secret", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = client.GenerateImages(context.Background(), ImageRequest{Prompt: "a cat"})
	if err == nil {
		t.Fatalf("GenerateImages() error = nil, want quota error")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("error = %v, want message to include quota exceeded", err)
	}
}

func TestGenerateImagesErrorsWhenNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiGenerateContentResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: "I cannot generate that."}}},
			}},
		})
	}))
	defer server.Close()

	client, err := NewClient(Options{APIKey: "secret", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = client.GenerateImages(context.Background(), ImageRequest{Prompt: "a cat"})
	if err == nil || !strings.Contains(err.Error(), "no image content") {
		t.Fatalf("GenerateImages() error = %v, want no image content", err)
	}
}

func TestGenerateVideoDownloadsFileData(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/models/veo-3.0-generate-001:generateContent", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiGenerateContentResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{
					FileData: &geminiFileData{MimeType: "video/mp4", FileURI: server.URL + "/files/output.mp4"},
				}}},
			}},
		})
	})
	mux.HandleFunc("/files/output.mp4", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "secret" {
			t.Fatalf("download missing key query")
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	})

	client, err := NewClient(Options{
		APIKey:     "secret",
		BaseURL:    server.URL,
		VideoModel: "veo-3.0-generate-001",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	asset, err := client.GenerateVideo(context.Background(), VideoRequest{Prompt: "a rocket launch"})
	if err != nil {
		t.Fatalf("GenerateVideo() error = %v", err)
	}
	if string(asset.Data) != "mp4-bytes" {
		t.Fatalf("asset data = %q, want mp4-bytes", asset.Data)
	}
	if asset.Format != "video/mp4" {
		t.Fatalf("asset format = %q, want video/mp4", asset.Format)
	}
	if asset.URL == "" {
		t.Fatalf("asset URL empty, want file uri")
	}
}
