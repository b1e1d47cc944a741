package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("gemini: api key is required")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a lightweight facade over the Gemini generateContent API for
// image and video generation.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	httpClient *http.Client
	logger     *infra.Logger
}

// SourceImage carries an input image for editing-style requests.
type SourceImage struct {
	Data []byte
	MIME string
}

// ImageRequest represents the information required to generate images.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Count          int
	Width          int
	Height         int
	Source         *SourceImage
}

// VideoRequest represents the information required to generate a video.
type VideoRequest struct {
	Prompt string
	Width  int
	Height int
}

// Asset is the normalized representation returned by the client.
type Asset struct {
	Data   []byte
	Format string
	URL    string
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiTool struct {
	ImageGeneration *geminiImageTool `json:"image_generation,omitempty"`
	VideoGeneration *geminiVideoTool `json:"video_generation,omitempty"`
}

type geminiImageTool struct{}

type geminiVideoTool struct{}

type geminiToolConfig struct {
	ImageGenerationConfig *geminiImageGenerationConfig `json:"image_generation_config,omitempty"`
}

type geminiImageGenerationConfig struct {
	NumberOfImages int `json:"number_of_images,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents   []geminiContent   `json:"contents"`
	Tools      []geminiTool      `json:"tools,omitempty"`
	ToolConfig *geminiToolConfig `json:"tool_config,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	videoModel := strings.TrimSpace(opts.VideoModel)
	if videoModel == "" {
		videoModel = "veo-3.0-generate-001"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		imageModel: imageModel,
		videoModel: videoModel,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ImageModel returns the configured image model identifier.
func (c *Client) ImageModel() string {
	return c.imageModel
}

// VideoModel returns the configured video model identifier.
func (c *Client) VideoModel() string {
	return c.videoModel
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateImages invokes the image model and decodes every returned asset.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) ([]Asset, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	count := req.Count
	if count < 1 {
		count = 1
	}
	if count > 4 {
		count = 4
	}
	parts := []geminiPart{{Text: buildImagePrompt(req)}}
	if req.Source != nil && len(req.Source.Data) > 0 {
		mime := req.Source.MIME
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.Source.Data),
		}})
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		Tools:    []geminiTool{{ImageGeneration: &geminiImageTool{}}},
		ToolConfig: &geminiToolConfig{
			ImageGenerationConfig: &geminiImageGenerationConfig{NumberOfImages: count},
		},
	}

	var response geminiGenerateContentResponse
	endpoint := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.imageModel))
	if err := c.invoke(ctx, endpoint, payload, &response); err != nil {
		return nil, err
	}

	var assets []Asset
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			asset, err := c.decodePart(ctx, part)
			if err != nil || len(asset.Data) == 0 {
				continue
			}
			if asset.Format == "" {
				asset.Format = "image/png"
			}
			assets = append(assets, asset)
			if len(assets) >= count {
				break
			}
		}
		if len(assets) >= count {
			break
		}
	}
	if len(assets) == 0 {
		return nil, errors.New("gemini: no image content returned")
	}
	c.logger.Debug().
		Str("model", c.imageModel).
		Int("count", len(assets)).
		Msg("gemini: generated image assets")
	return assets, nil
}

// GenerateVideo invokes the video model and returns the first asset.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (*Asset, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		Tools:    []geminiTool{{VideoGeneration: &geminiVideoTool{}}},
	}

	var response geminiGenerateContentResponse
	endpoint := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.videoModel))
	if err := c.invoke(ctx, endpoint, payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			asset, err := c.decodePart(ctx, part)
			if err != nil || len(asset.Data) == 0 {
				continue
			}
			if asset.Format == "" {
				asset.Format = "video/mp4"
			}
			c.logger.Debug().Str("model", c.videoModel).Msg("gemini: generated video asset")
			return &asset, nil
		}
	}
	return nil, errors.New("gemini: no video content returned")
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gemini: build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini: status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("gemini: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gemini: decode response: %w", err)
	}
	return nil
}

func (c *Client) decodePart(ctx context.Context, part geminiPart) (Asset, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return Asset{}, fmt.Errorf("gemini: decode inline data: %w", err)
		}
		return Asset{Data: data, Format: part.InlineData.MimeType}, nil
	}
	if part.FileData != nil && part.FileData.FileURI != "" {
		data, mime, err := c.downloadFile(ctx, part.FileData.FileURI)
		if err != nil {
			return Asset{}, err
		}
		format := part.FileData.MimeType
		if format == "" {
			format = mime
		}
		return Asset{Data: data, Format: format, URL: part.FileData.FileURI}, nil
	}
	return Asset{}, nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: build download request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("gemini: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("gemini: read file: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func buildImagePrompt(req ImageRequest) string {
	var b strings.Builder
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		b.WriteString(prompt)
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Avoid: ")
		b.WriteString(neg)
	}
	if req.Width > 0 && req.Height > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Target resolution: %dx%d", req.Width, req.Height)
	}
	return b.String()
}
