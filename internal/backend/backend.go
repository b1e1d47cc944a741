package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mediaforge/internal/chain"
	"mediaforge/internal/domain"
	"mediaforge/internal/storage"
)

// Canonical backend names, as they appear in chain priorities, job rows and
// API responses.
const (
	NameComfy     = "comfy"
	NameGemini    = "gemini"
	NameQwen      = "qwen"
	NameReplicate = "replicate"
)

// Backend extends the chain contract with the metadata the status API needs.
// Configured is a static credentials check; Available may hit the network.
type Backend interface {
	chain.Backend
	DisplayName() string
	Configured() bool
}

// AssetStore persists generated bytes and maps keys to public URLs. It is
// satisfied by storage.FileStore.
type AssetStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	URL(key string) string
}

const assetKeyPrefix = "generations"

var errNoPersistedOutput = errors.New("backend: generation returned no persistable output")

var titleCaser = cases.Title(language.English)

func titleName(name string) string {
	return titleCaser.String(name)
}

// storeAsset writes generated bytes under a fresh key and returns the public
// URL of the stored copy.
func storeAsset(ctx context.Context, store AssetStore, data []byte, mime string) (string, error) {
	if store == nil {
		return "", errors.New("backend: no asset store configured")
	}
	key := path.Join(assetKeyPrefix, uuid.NewString()+storage.ExtensionForMIME(mime))
	storedKey, err := store.Write(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("backend: store asset: %w", err)
	}
	return store.URL(storedKey), nil
}

var sourceFetchClient = &http.Client{Timeout: 60 * time.Second}

// fetchSource downloads a source image so it can be re-encoded for providers
// that cannot reach our local URLs.
func fetchSource(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("backend: build source request: %w", err)
	}
	resp, err := sourceFetchClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("backend: fetch source image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("backend: fetch source image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("backend: read source image: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// classifyHostedError maps a hosted provider error onto the retry taxonomy.
// Unknown errors default to transient so the chain may retry network flakes.
func classifyHostedError(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrorKindTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") ||
		strings.Contains(msg, "api token") ||
		strings.Contains(msg, "invalid token") ||
		strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403"):
		return domain.ErrorKindConfig
	case strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "throttl"):
		return domain.ErrorKindTransient
	case strings.Contains(msg, "out of memory"):
		return domain.ErrorKindResource
	case strings.Contains(msg, "no image content") ||
		strings.Contains(msg, "no video content") ||
		strings.Contains(msg, "safety") ||
		strings.Contains(msg, "blocked") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "unsupported"):
		return domain.ErrorKindExecution
	}
	return domain.ErrorKindTransient
}

func unsupported(name string, feature domain.Feature) domain.GenerationResult {
	return domain.FailedResult(domain.ErrorKindConfig, fmt.Errorf("%s: unsupported feature %s", name, feature))
}
