package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int
	StoragePath      string
	StorageBaseURL   string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string

	// Hosted backends. A missing key leaves the backend configured but
	// unavailable; the chain skips it at probe time.
	GeminiAPIKey          string
	GeminiModel           string
	GeminiVideoModel      string
	GeminiBaseURL         string
	DashScopeAPIKey       string
	QwenImageModel        string
	DashScopeBaseURL      string
	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateImageModel   string
	ReplicateUpscaleModel string

	// Local ComfyUI engine.
	ComfyBaseURL        string
	ComfySubmitTimeout  time.Duration
	ComfyPollInterval   time.Duration
	ComfyImageTimeout   time.Duration
	ComfyVideoTimeout   time.Duration
	ComfyStuckWindow    time.Duration
	ComfyHealthWindow   time.Duration
	ComfyHealthFailures int
	ComfyFreeVRAM       bool
	ComfyCheckpoint     string
	ComfyFluxUNet       string
	ComfyFluxCLIP       string
	ComfyFluxT5         string
	ComfyFluxVAE        string
	ComfyUpscaler       string
	ComfyVideoFamily    string
	ComfyWanUNet        string
	ComfyWanCLIP        string
	ComfyWanVAE         string
	ComfySVDCheckpoint  string

	WorkerPollInterval time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),

		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiVideoModel:      getEnv("GEMINI_VIDEO_MODEL", "veo-3.0-generate-001"),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		DashScopeAPIKey:       os.Getenv("DASHSCOPE_API_KEY"),
		QwenImageModel:        getEnv("QWEN_IMAGE_MODEL", "qwen-image-plus"),
		DashScopeBaseURL:      getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		ReplicateAPIToken:     os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:      getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateImageModel:   getEnv("REPLICATE_IMAGE_MODEL", "black-forest-labs/flux-schnell"),
		ReplicateUpscaleModel: getEnv("REPLICATE_UPSCALE_MODEL", "nightmareai/real-esrgan"),

		ComfyBaseURL:        os.Getenv("COMFY_BASE_URL"),
		ComfySubmitTimeout:  time.Second * time.Duration(getEnvInt("COMFY_SUBMIT_TIMEOUT_SECONDS", 15)),
		ComfyPollInterval:   time.Millisecond * time.Duration(getEnvInt("COMFY_POLL_INTERVAL_MS", 1000)),
		ComfyImageTimeout:   time.Second * time.Duration(getEnvInt("COMFY_IMAGE_TIMEOUT_SECONDS", 180)),
		ComfyVideoTimeout:   time.Second * time.Duration(getEnvInt("COMFY_VIDEO_TIMEOUT_SECONDS", 600)),
		ComfyStuckWindow:    time.Second * time.Duration(getEnvInt("COMFY_STUCK_WINDOW_SECONDS", 90)),
		ComfyHealthWindow:   time.Second * time.Duration(getEnvInt("COMFY_HEALTH_CACHE_SECONDS", 30)),
		ComfyHealthFailures: getEnvInt("COMFY_HEALTH_FAILURES", 3),
		ComfyFreeVRAM:       getEnvBool("COMFY_ALWAYS_FREE_VRAM", true),
		ComfyCheckpoint:     getEnv("COMFY_CHECKPOINT", "sd_xl_base_1.0.safetensors"),
		ComfyFluxUNet:       getEnv("COMFY_FLUX_UNET", "flux1-dev.safetensors"),
		ComfyFluxCLIP:       getEnv("COMFY_FLUX_CLIP", "clip_l.safetensors"),
		ComfyFluxT5:         getEnv("COMFY_FLUX_T5", "t5xxl_fp16.safetensors"),
		ComfyFluxVAE:        getEnv("COMFY_FLUX_VAE", "ae.safetensors"),
		ComfyUpscaler:       getEnv("COMFY_UPSCALE_MODEL", "RealESRGAN_x4plus.pth"),
		ComfyVideoFamily:    getEnv("COMFY_VIDEO_FAMILY", "wan"),
		ComfyWanUNet:        getEnv("COMFY_WAN_UNET", "wan2.1_t2v_1.3B_fp16.safetensors"),
		ComfyWanCLIP:        getEnv("COMFY_WAN_CLIP", "umt5_xxl_fp8_e4m3fn_scaled.safetensors"),
		ComfyWanVAE:         getEnv("COMFY_WAN_VAE", "wan_2.1_vae.safetensors"),
		ComfySVDCheckpoint:  getEnv("COMFY_SVD_CHECKPOINT", "svd_xt_1_1.safetensors"),

		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
