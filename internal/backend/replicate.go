package backend

import (
	"context"
	"errors"
	"math"

	"mediaforge/internal/domain"
	"mediaforge/internal/providers/replicate"
)

// ReplicateBackend serves text-to-image and upscaling through hosted model
// predictions. Outputs stay on replicate.delivery URLs; the orchestrator
// copies them into local storage after the chain resolves.
type ReplicateBackend struct {
	client       *replicate.Client
	imageModel   string
	upscaleModel string
}

func NewReplicateBackend(client *replicate.Client, imageModel, upscaleModel string) *ReplicateBackend {
	return &ReplicateBackend{
		client:       client,
		imageModel:   imageModel,
		upscaleModel: upscaleModel,
	}
}

func (b *ReplicateBackend) Name() string { return NameReplicate }

func (b *ReplicateBackend) DisplayName() string { return titleName(NameReplicate) }

func (b *ReplicateBackend) Configured() bool {
	return b.client != nil && b.client.HasCredentials()
}

func (b *ReplicateBackend) Available(ctx context.Context) bool {
	return b.Configured()
}

func (b *ReplicateBackend) Generate(ctx context.Context, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult {
	switch feature {
	case domain.FeatureTextToImage:
		return b.generateImage(ctx, req)
	case domain.FeatureUpscale:
		return b.upscale(ctx, req)
	}
	return unsupported(NameReplicate, feature)
}

func (b *ReplicateBackend) generateImage(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	seed := domain.ResolveSeed(req.Seed) % math.MaxInt32
	if seed == 0 {
		seed = 1
	}
	input := map[string]any{
		"prompt":        req.Prompt,
		"num_outputs":   req.BatchSize,
		"aspect_ratio":  aspectRatioFor(req.Width, req.Height),
		"output_format": "png",
		"seed":          seed,
	}
	prediction, err := b.client.Run(ctx, b.imageModel, input)
	if err != nil {
		return domain.FailedResult(classifyHostedError(err), err)
	}
	urls := prediction.OutputURLs()
	if len(urls) == 0 {
		return domain.FailedResult(domain.ErrorKindExecution, errors.New("replicate: prediction returned no output"))
	}
	return domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: urls,
		Seed:    seed,
		Model:   b.imageModel,
	}
}

func (b *ReplicateBackend) upscale(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	input := map[string]any{
		"image": req.SourceImageURL,
		"scale": 4,
	}
	prediction, err := b.client.Run(ctx, b.upscaleModel, input)
	if err != nil {
		return domain.FailedResult(classifyHostedError(err), err)
	}
	urls := prediction.OutputURLs()
	if len(urls) == 0 {
		return domain.FailedResult(domain.ErrorKindExecution, errors.New("replicate: prediction returned no output"))
	}
	return domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: urls,
		Model:   b.upscaleModel,
	}
}

// aspectRatioFor snaps arbitrary dimensions onto the ratio vocabulary hosted
// image models accept.
func aspectRatioFor(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}
	ratio := float64(width) / float64(height)
	candidates := []struct {
		name  string
		value float64
	}{
		{"1:1", 1},
		{"16:9", 16.0 / 9.0},
		{"9:16", 9.0 / 16.0},
		{"4:3", 4.0 / 3.0},
		{"3:4", 3.0 / 4.0},
		{"3:2", 3.0 / 2.0},
		{"2:3", 2.0 / 3.0},
		{"21:9", 21.0 / 9.0},
		{"9:21", 9.0 / 21.0},
	}
	best := candidates[0]
	bestDiff := math.Abs(ratio - best.value)
	for _, c := range candidates[1:] {
		if diff := math.Abs(ratio - c.value); diff < bestDiff {
			best, bestDiff = c, diff
		}
	}
	return best.name
}
