package backend

import (
	"context"
	"errors"

	"mediaforge/internal/domain"
	"mediaforge/internal/providers/comfy"
)

// ComfyBackend routes every feature to the local GPU engine. It is the only
// backend that serves the full feature set.
type ComfyBackend struct {
	engine *comfy.Engine
}

// NewComfyBackend wraps an engine; a nil engine yields an unconfigured backend.
func NewComfyBackend(engine *comfy.Engine) *ComfyBackend {
	return &ComfyBackend{engine: engine}
}

func (b *ComfyBackend) Name() string { return NameComfy }

func (b *ComfyBackend) DisplayName() string { return "ComfyUI" }

func (b *ComfyBackend) Configured() bool { return b.engine != nil }

// Available defers to the engine's cached health probe, which also drives
// recovery when the server has been failing.
func (b *ComfyBackend) Available(ctx context.Context) bool {
	return b.engine != nil && b.engine.EnsureReady(ctx)
}

// Engine exposes the underlying engine for status reporting.
func (b *ComfyBackend) Engine() *comfy.Engine { return b.engine }

func (b *ComfyBackend) Generate(ctx context.Context, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult {
	if b.engine == nil {
		return domain.FailedResult(domain.ErrorKindConfig, errors.New("comfy: engine not configured"))
	}
	switch feature {
	case domain.FeatureTextToImage:
		return b.engine.GenerateImage(ctx, req)
	case domain.FeatureImageToImage:
		return b.engine.EnhanceImage(ctx, req)
	case domain.FeatureUpscale:
		return b.engine.UpscaleImage(ctx, req)
	case domain.FeatureTextToVideo, domain.FeatureImageToVideo:
		return b.engine.GenerateVideo(ctx, req)
	}
	return unsupported(NameComfy, feature)
}
