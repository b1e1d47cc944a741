package backend

import (
	"fmt"
	"sort"

	"mediaforge/internal/chain"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/providers/comfy"
	"mediaforge/internal/providers/gemini"
	"mediaforge/internal/providers/qwen"
	"mediaforge/internal/providers/replicate"
)

type chainLink struct {
	name     string
	priority int
}

// featureChains is the fixed provider order per feature. The local engine
// always leads; hosted fallbacks follow in cost order.
var featureChains = map[domain.Feature][]chainLink{
	domain.FeatureTextToImage: {
		{NameComfy, 10},
		{NameGemini, 20},
		{NameQwen, 30},
		{NameReplicate, 40},
	},
	domain.FeatureImageToImage: {
		{NameComfy, 10},
		{NameGemini, 20},
		{NameQwen, 30},
	},
	domain.FeatureUpscale: {
		{NameComfy, 10},
		{NameReplicate, 20},
	},
	domain.FeatureTextToVideo: {
		{NameComfy, 10},
		{NameGemini, 20},
	},
	domain.FeatureImageToVideo: {
		{NameComfy, 10},
	},
}

// Registry holds the constructed backends and hands the executor its
// per-feature candidate chains.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds an empty registry; backends are added with Register.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces a backend under its canonical name.
func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// All returns every registered backend, sorted by name for stable output.
func (r *Registry) All() []Backend {
	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ChainFor resolves the feature's chain against the registered backends.
// Unregistered and unconfigured links are dropped so the executor only ever
// probes backends that could plausibly serve.
func (r *Registry) ChainFor(feature domain.Feature) []chain.Candidate {
	links, ok := featureChains[feature]
	if !ok {
		return nil
	}
	candidates := make([]chain.Candidate, 0, len(links))
	for _, link := range links {
		b, ok := r.backends[link.name]
		if !ok || !b.Configured() {
			continue
		}
		candidates = append(candidates, chain.Candidate{Backend: b, Priority: link.priority})
	}
	return candidates
}

// Features lists the features that currently have at least one configured
// backend.
func (r *Registry) Features() []domain.Feature {
	out := make([]domain.Feature, 0, len(featureChains))
	for feature := range featureChains {
		if len(r.ChainFor(feature)) > 0 {
			out = append(out, feature)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FromConfig wires every backend the configuration enables. The comfy engine
// is only built when a base URL is set; hosted backends are always registered
// and gate themselves on credentials.
func FromConfig(cfg *infra.Config, store AssetStore, logger *infra.Logger) (*Registry, error) {
	registry := NewRegistry()

	var engine *comfy.Engine
	if cfg.ComfyBaseURL != "" {
		client, err := comfy.NewClient(comfy.Options{
			BaseURL:       cfg.ComfyBaseURL,
			Logger:        logger,
			SubmitTimeout: cfg.ComfySubmitTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("backend: build comfy client: %w", err)
		}
		engine, err = comfy.NewEngine(comfy.EngineOptions{
			Client: client,
			Models: comfy.Models{
				Checkpoint:    cfg.ComfyCheckpoint,
				FluxUNet:      cfg.ComfyFluxUNet,
				FluxCLIP:      cfg.ComfyFluxCLIP,
				FluxT5:        cfg.ComfyFluxT5,
				FluxVAE:       cfg.ComfyFluxVAE,
				Upscaler:      cfg.ComfyUpscaler,
				WanUNet:       cfg.ComfyWanUNet,
				WanCLIP:       cfg.ComfyWanCLIP,
				WanVAE:        cfg.ComfyWanVAE,
				SVDCheckpoint: cfg.ComfySVDCheckpoint,
				VideoFamily:   cfg.ComfyVideoFamily,
			},
			Logger:          logger,
			PollInterval:    cfg.ComfyPollInterval,
			ImageTimeout:    cfg.ComfyImageTimeout,
			VideoTimeout:    cfg.ComfyVideoTimeout,
			StuckWindow:     cfg.ComfyStuckWindow,
			HealthThreshold: cfg.ComfyHealthFailures,
			HealthWindow:    cfg.ComfyHealthWindow,
			FreeVRAMEachJob: cfg.ComfyFreeVRAM,
		})
		if err != nil {
			return nil, fmt.Errorf("backend: build comfy engine: %w", err)
		}
	}
	registry.Register(NewComfyBackend(engine))

	geminiClient, err := gemini.NewClient(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		ImageModel: cfg.GeminiModel,
		VideoModel: cfg.GeminiVideoModel,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: build gemini client: %w", err)
	}
	registry.Register(NewGeminiBackend(geminiClient, store, logger))

	qwenClient, err := qwen.NewClient(qwen.Options{
		APIKey:  cfg.DashScopeAPIKey,
		BaseURL: cfg.DashScopeBaseURL,
		Model:   cfg.QwenImageModel,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: build qwen client: %w", err)
	}
	registry.Register(NewQwenBackend(qwenClient, store, logger))

	replicateClient, err := replicate.NewClient(replicate.Options{
		APIToken: cfg.ReplicateAPIToken,
		BaseURL:  cfg.ReplicateBaseURL,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("backend: build replicate client: %w", err)
	}
	registry.Register(NewReplicateBackend(replicateClient, cfg.ReplicateImageModel, cfg.ReplicateUpscaleModel))

	return registry, nil
}
