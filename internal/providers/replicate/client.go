package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/infra"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("replicate: api token is required")

// Options configures the Replicate predictions client.
type Options struct {
	APIToken     string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
	MaxWait      time.Duration
}

// Client performs HTTP calls against the Replicate predictions API.
type Client struct {
	apiToken     string
	baseURL      string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	maxWait      time.Duration
}

// Prediction is the wire representation of a prediction resource.
type Prediction struct {
	ID     string          `json:"id"`
	Model  string          `json:"model"`
	Status string          `json:"status"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type createPredictionRequest struct {
	Input map[string]any `json:"input"`
}

type apiError struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
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
		apiToken:     strings.TrimSpace(opts.APIToken),
		baseURL:      baseURL,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// Terminal reports whether the prediction has reached a final status.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// Succeeded reports whether the prediction finished with output.
func (p *Prediction) Succeeded() bool {
	return p.Status == "succeeded"
}

// OutputURLs decodes the prediction output, which the API returns either as a
// single URL string or as a list of URL strings depending on the model.
func (p *Prediction) OutputURLs() []string {
	if len(p.Output) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil {
		urls := make([]string, 0, len(many))
		for _, u := range many {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	}
	return nil
}

// Run creates a prediction for the given model and blocks until it reaches a
// terminal status or the wait budget is exhausted.
func (c *Client) Run(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	prediction, err := c.CreatePrediction(ctx, model, input)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, prediction.ID)
}

// CreatePrediction starts a prediction run for the latest version of a model.
func (c *Client) CreatePrediction(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	model = strings.Trim(strings.TrimSpace(model), "/")
	if model == "" {
		return nil, errors.New("replicate: model is required")
	}
	endpoint := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, model)
	prediction := &Prediction{}
	if err := c.do(ctx, http.MethodPost, endpoint, createPredictionRequest{Input: input}, prediction); err != nil {
		return nil, err
	}
	if prediction.ID == "" {
		return nil, errors.New("replicate: prediction id missing from response")
	}
	c.logger.Debug().
		Str("model", model).
		Str("prediction_id", prediction.ID).
		Str("status", prediction.Status).
		Msg("replicate: prediction created")
	return prediction, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	prediction := &Prediction{}
	endpoint := fmt.Sprintf("%s/predictions/%s", c.baseURL, id)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, prediction); err != nil {
		return nil, err
	}
	return prediction, nil
}

// Wait polls a prediction until it reaches a terminal status.
func (c *Client) Wait(ctx context.Context, id string) (*Prediction, error) {
	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.maxWait)
		defer cancel()
	}
	for {
		prediction, err := c.GetPrediction(waitCtx, id)
		if err != nil {
			return nil, err
		}
		if prediction.Terminal() {
			if prediction.Status != "succeeded" && prediction.Error != "" {
				return prediction, fmt.Errorf("replicate: prediction %s %s: %s", id, prediction.Status, prediction.Error)
			}
			return prediction, nil
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return nil, fmt.Errorf("replicate: wait for prediction %s: %w", id, waitCtx.Err())
		case <-timer.C:
		}
	}
}

// Download fetches the bytes behind a prediction output URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: download output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("replicate: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: read output: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("replicate: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail apiError
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return fmt.Errorf("replicate: status %d: %s", resp.StatusCode, detail.Detail)
		}
		return fmt.Errorf("replicate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}
