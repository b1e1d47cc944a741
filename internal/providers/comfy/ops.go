package comfy

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"mediaforge/internal/domain"
)

// Facade operations. Each one normalizes the request, stages any source
// image, builds the family graph and runs it. Failures come back inside the
// result; these methods never return an error.

// GenerateImage runs a text-to-image workflow. A model hint containing
// "flux" selects the flow-matching pipeline when its weights are configured.
func (e *Engine) GenerateImage(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	seed := domain.ResolveSeed(req.Seed)
	graph, model := e.imageGraph(req, seed)
	result := e.RunJob(ctx, Job{Graph: graph})
	return e.annotate(result, seed, model)
}

// EnhanceImage runs image-to-image over an uploaded source; the request
// strength controls how far the sampler may drift from it.
func (e *Engine) EnhanceImage(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	seed := domain.ResolveSeed(req.Seed)
	name, err := e.stageSource(ctx, req.SourceImageURL)
	if err != nil {
		return e.annotate(domain.FailedResult(domain.ErrorKindTransient, err), seed, e.models.Checkpoint)
	}
	result := e.RunJob(ctx, Job{Graph: ImageToImage(e.models, req, seed, name)})
	return e.annotate(result, seed, e.models.Checkpoint)
}

// UpscaleImage runs the uploaded source through the dedicated upscale model.
func (e *Engine) UpscaleImage(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	name, err := e.stageSource(ctx, req.SourceImageURL)
	if err != nil {
		return e.annotate(domain.FailedResult(domain.ErrorKindTransient, err), 0, e.models.Upscaler)
	}
	result := e.RunJob(ctx, Job{Graph: UpscaleImage(e.models, name)})
	return e.annotate(result, 0, e.models.Upscaler)
}

// GenerateVideo runs text-to-video or image-to-video depending on whether a
// source image is present. Families without a native text-to-video path get
// the two-stage composition: render a still, free VRAM, animate it.
func (e *Engine) GenerateVideo(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	seed := domain.ResolveSeed(req.Seed)

	if req.SourceImageURL != "" {
		name, err := e.stageSource(ctx, req.SourceImageURL)
		if err != nil {
			return e.annotate(domain.FailedResult(domain.ErrorKindTransient, err), seed, e.videoModel())
		}
		result := e.RunJob(ctx, Job{Graph: e.imageToVideoGraph(req, seed, name), Video: true})
		return e.annotate(result, seed, e.videoModel())
	}

	if e.models.VideoFamily == "wan" {
		result := e.RunJob(ctx, Job{Graph: WanTextToVideo(e.models, req, seed), Video: true})
		return e.annotate(result, seed, e.models.WanUNet)
	}
	return e.twoStageTextToVideo(ctx, req, seed)
}

// twoStageTextToVideo renders a still first, then animates it. The VRAM
// free between stages is unconditional: both stages need the whole card.
func (e *Engine) twoStageTextToVideo(ctx context.Context, req domain.GenerationRequest, seed int64) domain.GenerationResult {
	imageGraph, _ := e.imageGraph(req, seed)
	still := e.RunJob(ctx, Job{Graph: imageGraph})
	if !still.Succeeded() {
		return e.annotate(still, seed, e.videoModel())
	}
	e.logger.Info().Str("still", still.Outputs[0]).Msg("comfy: two-stage video, still rendered")
	e.FreeVRAM(ctx)

	name, err := e.stageSource(ctx, still.Outputs[0])
	if err != nil {
		return e.annotate(domain.FailedResult(domain.ErrorKindTransient, err), seed, e.videoModel())
	}
	result := e.RunJob(ctx, Job{Graph: e.imageToVideoGraph(req, seed, name), Video: true})
	return e.annotate(result, seed, e.videoModel())
}

func (e *Engine) imageGraph(req domain.GenerationRequest, seed int64) (*Graph, string) {
	if strings.Contains(strings.ToLower(req.Model), "flux") && e.models.FluxUNet != "" {
		return FluxTextToImage(e.models, req, seed), e.models.FluxUNet
	}
	return CheckpointTextToImage(e.models, req, seed), e.models.Checkpoint
}

func (e *Engine) imageToVideoGraph(req domain.GenerationRequest, seed int64, sourceName string) *Graph {
	if e.models.VideoFamily == "wan" {
		return WanImageToVideo(e.models, req, seed, sourceName)
	}
	return SVDImageToVideo(e.models, req, seed, sourceName)
}

func (e *Engine) videoModel() string {
	if e.models.VideoFamily == "wan" {
		return e.models.WanUNet
	}
	return e.models.SVDCheckpoint
}

// stageSource downloads the source image and pushes it into the engine's
// input directory, returning the stored name graphs can load.
func (e *Engine) stageSource(ctx context.Context, sourceURL string) (string, error) {
	data, err := e.client.Download(ctx, sourceURL)
	if err != nil {
		return "", fmt.Errorf("comfy: fetch source image: %w", err)
	}
	uploaded, err := e.client.UploadImage(ctx, uuid.NewString()+sourceExt(sourceURL), data)
	if err != nil {
		return "", fmt.Errorf("comfy: stage source image: %w", err)
	}
	name := uploaded.Name
	if uploaded.Subfolder != "" {
		name = uploaded.Subfolder + "/" + uploaded.Name
	}
	return name, nil
}

func sourceExt(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".png"
	}
	switch ext := strings.ToLower(path.Ext(parsed.Path)); ext {
	case ".png", ".jpg", ".jpeg", ".webp":
		return ext
	}
	return ".png"
}

func (e *Engine) annotate(result domain.GenerationResult, seed int64, model string) domain.GenerationResult {
	if result.Seed == 0 {
		result.Seed = seed
	}
	if result.Model == "" {
		result.Model = model
	}
	return result
}
