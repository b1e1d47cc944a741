package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/providers/qwen"
)

const qwenSeedModulus = 2147483647

// QwenBackend serves image generation and editing through DashScope. The API
// returns one image per call, so batches are issued sequentially.
type QwenBackend struct {
	client *qwen.Client
	store  AssetStore
	logger *infra.Logger
}

func NewQwenBackend(client *qwen.Client, store AssetStore, logger *infra.Logger) *QwenBackend {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &QwenBackend{client: client, store: store, logger: logger}
}

func (b *QwenBackend) Name() string { return NameQwen }

func (b *QwenBackend) DisplayName() string { return titleName(NameQwen) }

func (b *QwenBackend) Configured() bool {
	return b.client != nil && b.client.HasCredentials()
}

func (b *QwenBackend) Available(ctx context.Context) bool {
	return b.Configured()
}

func (b *QwenBackend) Generate(ctx context.Context, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult {
	switch feature {
	case domain.FeatureTextToImage, domain.FeatureImageToImage:
	default:
		return unsupported(NameQwen, feature)
	}
	req = req.Normalized()

	sourceImage := ""
	if feature == domain.FeatureImageToImage {
		// DashScope cannot reach our local URLs, so the source always goes
		// up as an inline data URI.
		data, mime, err := fetchSource(ctx, req.SourceImageURL)
		if err != nil {
			return domain.FailedResult(domain.ErrorKindTransient, err)
		}
		sourceImage = qwen.EncodeImageData(data, mime)
	}

	seed := domain.ResolveSeed(req.Seed) % qwenSeedModulus
	if seed == 0 {
		seed = 1
	}
	size := fmt.Sprintf("%d*%d", req.Width, req.Height)

	outputs := make([]string, 0, req.BatchSize)
	var lastErr error
	for i := 0; i < req.BatchSize; i++ {
		asset, err := b.client.GenerateImage(ctx, qwen.ImageRequest{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Size:           size,
			Seed:           int(seed) + i,
			SourceImage:    sourceImage,
		})
		if err != nil {
			lastErr = err
			break
		}
		outputs = append(outputs, b.persist(ctx, asset))
	}

	if len(outputs) == 0 {
		if lastErr == nil {
			lastErr = errNoPersistedOutput
		}
		return domain.FailedResult(classifyHostedError(lastErr), lastErr)
	}
	if lastErr != nil {
		b.logger.Warn().Err(lastErr).Int("delivered", len(outputs)).Msg("qwen backend: partial batch")
	}
	return domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: outputs,
		Seed:    seed,
		Model:   b.client.Model(),
	}
}

// persist prefers a locally stored copy; DashScope result URLs expire within
// a day, so the remote URL is only a fallback.
func (b *QwenBackend) persist(ctx context.Context, asset *qwen.ImageAsset) string {
	if len(asset.Data) > 0 {
		url, err := storeAsset(ctx, b.store, asset.Data, asset.Format)
		if err == nil {
			return url
		}
		b.logger.Warn().Err(err).Msg("qwen backend: persist asset failed")
	}
	return asset.URL
}
