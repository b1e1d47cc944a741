package backend

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/providers/gemini"
)

// GeminiBackend serves image generation, editing and text-to-video through
// the Gemini API. Returned bytes are persisted into the asset store so the
// rest of the pipeline only ever sees URLs.
type GeminiBackend struct {
	client *gemini.Client
	store  AssetStore
	logger *infra.Logger
}

func NewGeminiBackend(client *gemini.Client, store AssetStore, logger *infra.Logger) *GeminiBackend {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &GeminiBackend{client: client, store: store, logger: logger}
}

func (b *GeminiBackend) Name() string { return NameGemini }

func (b *GeminiBackend) DisplayName() string { return titleName(NameGemini) }

func (b *GeminiBackend) Configured() bool {
	return b.client != nil && b.client.HasCredentials()
}

// Available is a credentials check; hosted APIs are assumed reachable and the
// chain's retry budget absorbs the occasional outage.
func (b *GeminiBackend) Available(ctx context.Context) bool {
	return b.Configured()
}

func (b *GeminiBackend) Generate(ctx context.Context, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult {
	switch feature {
	case domain.FeatureTextToImage, domain.FeatureImageToImage:
		return b.generateImages(ctx, feature, req)
	case domain.FeatureTextToVideo:
		return b.generateVideo(ctx, req)
	}
	return unsupported(NameGemini, feature)
}

func (b *GeminiBackend) generateImages(ctx context.Context, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	apiReq := gemini.ImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Count:          req.BatchSize,
		Width:          req.Width,
		Height:         req.Height,
	}
	if feature == domain.FeatureImageToImage {
		data, mime, err := fetchSource(ctx, req.SourceImageURL)
		if err != nil {
			return domain.FailedResult(domain.ErrorKindTransient, err)
		}
		apiReq.Source = &gemini.SourceImage{Data: data, MIME: mime}
	}

	assets, err := b.client.GenerateImages(ctx, apiReq)
	if err != nil {
		return domain.FailedResult(classifyHostedError(err), err)
	}
	outputs := b.persist(ctx, assets)
	if len(outputs) == 0 {
		return domain.FailedResult(domain.ErrorKindTransient, errNoPersistedOutput)
	}
	return domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: outputs,
		Model:   b.client.ImageModel(),
	}
}

func (b *GeminiBackend) generateVideo(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	req = req.Normalized()
	asset, err := b.client.GenerateVideo(ctx, gemini.VideoRequest{
		Prompt: req.Prompt,
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		return domain.FailedResult(classifyHostedError(err), err)
	}
	outputs := b.persist(ctx, []gemini.Asset{*asset})
	if len(outputs) == 0 {
		return domain.FailedResult(domain.ErrorKindTransient, errNoPersistedOutput)
	}
	return domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: outputs,
		Model:   b.client.VideoModel(),
	}
}

// persist stores inline bytes locally and keeps remote URLs as a fallback
// when a write fails.
func (b *GeminiBackend) persist(ctx context.Context, assets []gemini.Asset) []string {
	outputs := make([]string, 0, len(assets))
	for _, asset := range assets {
		if len(asset.Data) > 0 {
			url, err := storeAsset(ctx, b.store, asset.Data, asset.Format)
			if err == nil {
				outputs = append(outputs, url)
				continue
			}
			b.logger.Warn().Err(err).Msg("gemini backend: persist asset failed")
		}
		if asset.URL != "" {
			outputs = append(outputs, asset.URL)
		}
	}
	return outputs
}
