package domain

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Feature enumerates the generation features a backend chain can serve.
type Feature string

const (
	FeatureTextToImage  Feature = "text_to_image"
	FeatureImageToImage Feature = "image_to_image"
	FeatureUpscale      Feature = "upscale"
	FeatureTextToVideo  Feature = "text_to_video"
	FeatureImageToVideo Feature = "image_to_video"
)

// NeedsPrompt reports whether the feature requires a text prompt.
func (f Feature) NeedsPrompt() bool {
	switch f {
	case FeatureTextToImage, FeatureImageToImage, FeatureTextToVideo:
		return true
	}
	return false
}

// NeedsSourceImage reports whether the feature requires a source image.
func (f Feature) NeedsSourceImage() bool {
	switch f {
	case FeatureImageToImage, FeatureUpscale, FeatureImageToVideo:
		return true
	}
	return false
}

// IsVideo reports whether the feature produces video output.
func (f Feature) IsVideo() bool {
	return f == FeatureTextToVideo || f == FeatureImageToVideo
}

// ParseFeature validates a wire string against the known feature set.
func ParseFeature(s string) (Feature, error) {
	switch Feature(s) {
	case FeatureTextToImage, FeatureImageToImage, FeatureUpscale, FeatureTextToVideo, FeatureImageToVideo:
		return Feature(s), nil
	}
	return "", fmt.Errorf("domain: unknown feature %q", s)
}

const (
	MaxPromptLength = 2000
	MinDimension    = 256
	MaxDimension    = 2048
	DefaultSize     = 1024
	MaxBatchSize    = 4
)

// GenerationRequest is the normalized contract handed to every backend.
type GenerationRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	SourceImageURL string  `json:"source_image_url,omitempty"`
	Strength       float64 `json:"strength,omitempty"`
	BatchSize      int     `json:"batch_size,omitempty"`
	Model          string  `json:"model,omitempty"`
}

// Normalized returns a copy with every field clamped into its valid range.
// Out-of-range values are corrected, never rejected; dimensions snap to the
// nearest multiple of 8 because latent-space models require it.
func (r GenerationRequest) Normalized() GenerationRequest {
	out := r
	out.Prompt = strings.TrimSpace(out.Prompt)
	if len(out.Prompt) > MaxPromptLength {
		out.Prompt = out.Prompt[:MaxPromptLength]
	}
	out.NegativePrompt = strings.TrimSpace(out.NegativePrompt)
	out.Width = clampDimension(out.Width)
	out.Height = clampDimension(out.Height)
	if out.Steps < 0 {
		out.Steps = 0
	}
	if out.Steps > 100 {
		out.Steps = 100
	}
	if out.GuidanceScale < 0 {
		out.GuidanceScale = 0
	}
	if out.GuidanceScale > 30 {
		out.GuidanceScale = 30
	}
	if out.Strength <= 0 || out.Strength > 1 {
		out.Strength = 0.6
	}
	if out.BatchSize < 1 {
		out.BatchSize = 1
	}
	if out.BatchSize > MaxBatchSize {
		out.BatchSize = MaxBatchSize
	}
	return out
}

func clampDimension(d int) int {
	if d == 0 {
		return DefaultSize
	}
	if d < MinDimension {
		return MinDimension
	}
	if d > MaxDimension {
		return MaxDimension
	}
	return d - d%8
}

// Validate checks the hard requirements for the given feature.
func (r GenerationRequest) Validate(feature Feature) error {
	if feature.NeedsPrompt() && strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("domain: %s requires a prompt", feature)
	}
	if feature.NeedsSourceImage() && strings.TrimSpace(r.SourceImageURL) == "" {
		return fmt.Errorf("domain: %s requires a source image", feature)
	}
	return nil
}

// ResolveSeed maps the random sentinel (seed <= 0) to a concrete positive
// seed so results stay reproducible once reported.
func ResolveSeed(seed int64) int64 {
	if seed > 0 {
		return seed
	}
	return rand.Int64N(1<<62) + 1
}

// GenerationStatus enumerates backend job lifecycle states.
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// GenerationResult is what a backend reports for one generation attempt.
type GenerationResult struct {
	Status    GenerationStatus `json:"status"`
	Outputs   []string         `json:"outputs,omitempty"`
	Seed      int64            `json:"seed,omitempty"`
	Model     string           `json:"model,omitempty"`
	Backend   string           `json:"backend,omitempty"`
	ErrorKind ErrorKind        `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Succeeded reports whether the attempt actually produced output. A
// completed status with zero outputs is still a failure.
func (r GenerationResult) Succeeded() bool {
	return r.Status == StatusCompleted && len(r.Outputs) > 0
}

// FailedResult builds a failed result tagged with an error classification.
func FailedResult(kind ErrorKind, err error) GenerationResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return GenerationResult{Status: StatusFailed, ErrorKind: kind, Error: msg}
}

// AttemptRecord captures one backend's contribution to a chain execution,
// folding any internal retries into a single entry.
type AttemptRecord struct {
	Backend  string        `json:"backend"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// ChainExecution is the outcome of walking one feature's backend chain.
type ChainExecution struct {
	Feature    Feature          `json:"feature"`
	Attempts   []AttemptRecord  `json:"attempts"`
	Success    bool             `json:"success"`
	Result     GenerationResult `json:"result"`
	FinalError string           `json:"final_error,omitempty"`
	Duration   time.Duration    `json:"duration_ns"`
}

// TriedBackends lists the backends that produced an attempt, in order.
func (e ChainExecution) TriedBackends() []string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Backend)
	}
	return names
}
