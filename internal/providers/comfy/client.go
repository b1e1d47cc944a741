package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediaforge/internal/infra"
)

// ErrMissingBaseURL indicates that the client was configured without an
// engine address.
var ErrMissingBaseURL = errors.New("comfy: base url is required")

// Options configures the ComfyUI HTTP client. Timeouts are per operation:
// submission answers fast or not at all, polls are cheap, probes cheaper.
type Options struct {
	BaseURL       string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	ProbeTimeout  time.Duration
	UploadTimeout time.Duration
}

// Client performs HTTP calls against one ComfyUI server.
type Client struct {
	baseURL       string
	clientID      string
	httpClient    *http.Client
	logger        *infra.Logger
	submitTimeout time.Duration
	pollTimeout   time.Duration
	probeTimeout  time.Duration
	uploadTimeout time.Duration
}

// SubmitError carries the server's rejection of a workflow so callers can
// tell a broken graph apart from a broken engine.
type SubmitError struct {
	Message    string
	NodeErrors map[string]json.RawMessage
}

func (e *SubmitError) Error() string {
	return "comfy: prompt rejected: " + e.Message
}

// Detail flattens the rejection into one searchable string.
func (e *SubmitError) Detail() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for node, raw := range e.NodeErrors {
		b.WriteString(" node=")
		b.WriteString(node)
		b.WriteString(" ")
		b.Write(raw)
	}
	return b.String()
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	submitTimeout := opts.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 15 * time.Second
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = 30 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		clientID:      uuid.NewString(),
		httpClient:    httpClient,
		logger:        logger,
		submitTimeout: submitTimeout,
		pollTimeout:   pollTimeout,
		probeTimeout:  probeTimeout,
		uploadTimeout: uploadTimeout,
	}, nil
}

// BaseURL returns the configured engine address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitPrompt posts a workflow and returns the assigned prompt id. A
// rejected workflow comes back as *SubmitError.
func (c *Client) SubmitPrompt(ctx context.Context, g *Graph) (string, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("comfy: encode workflow: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	body, err := json.Marshal(PromptRequest{Prompt: raw, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("comfy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: submit prompt: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("comfy: read response: %w", err)
	}

	var decoded PromptResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("comfy: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		return "", fmt.Errorf("comfy: decode response: %w", err)
	}
	if decoded.Error != nil || len(decoded.NodeErrors) > 0 {
		msg := "workflow rejected"
		if decoded.Error != nil {
			msg = decoded.Error.Message
			if decoded.Error.Details != "" {
				msg += ": " + decoded.Error.Details
			}
		}
		return "", &SubmitError{Message: msg, NodeErrors: decoded.NodeErrors}
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("comfy: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if decoded.PromptID == "" {
		return "", errors.New("comfy: empty prompt id")
	}
	c.logger.Debug().Str("prompt_id", decoded.PromptID).Msg("comfy: prompt accepted")
	return decoded.PromptID, nil
}

// History fetches the execution record for a prompt. found is false while
// the prompt has not finished executing.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var decoded HistoryResponse
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &decoded); err != nil {
		return nil, false, err
	}
	entry, ok := decoded[promptID]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Queue fetches the running and pending lanes.
func (c *Client) Queue(ctx context.Context) (*QueueResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var decoded QueueResponse
	if err := c.getJSON(ctx, "/queue", &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// Interrupt aborts whatever the engine is currently executing.
func (c *Client) Interrupt(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	return c.postJSON(ctx, "/interrupt", nil)
}

// ClearQueue drops every pending workflow.
func (c *Client) ClearQueue(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	return c.postJSON(ctx, "/queue", clearQueueRequest{Clear: true})
}

// FreeMemory asks the engine to unload models and release VRAM.
func (c *Client) FreeMemory(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	return c.postJSON(ctx, "/free", freeRequest{UnloadModels: true, FreeMemory: true})
}

// SystemStats fetches device and memory information; it doubles as the
// reachability probe.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	var decoded SystemStats
	if err := c.getJSON(ctx, "/system_stats", &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// UploadImage pushes a source image into the engine's input directory so
// graphs can reference it by name.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (*UploadResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("comfy: build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("comfy: write upload form: %w", err)
	}
	if err := writer.WriteField("overwrite", "true"); err != nil {
		return nil, fmt.Errorf("comfy: write upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("comfy: close upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return nil, fmt.Errorf("comfy: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: upload image: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("comfy: upload status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var decoded UploadResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("comfy: decode response: %w", err)
	}
	if decoded.Name == "" {
		return nil, errors.New("comfy: upload returned empty name")
	}
	c.logger.Debug().Str("name", decoded.Name).Msg("comfy: uploaded source image")
	return &decoded, nil
}

// ViewURL builds the address under which a produced file can be fetched.
func (c *Client) ViewURL(f FileOutput) string {
	q := url.Values{}
	q.Set("filename", f.Filename)
	q.Set("subfolder", f.Subfolder)
	q.Set("type", f.Type)
	return c.baseURL + "/view?" + q.Encode()
}

// Download fetches arbitrary image bytes, either a produced view URL or a
// source image that needs staging into the engine.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("comfy: invalid download url: %s", rawURL)
	}
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("comfy: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfy: read download: %w", err)
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("comfy: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("comfy: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("comfy: get %s status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("comfy: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("comfy: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("comfy: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comfy: post %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("comfy: post %s status %d", path, resp.StatusCode)
	}
	return nil
}
