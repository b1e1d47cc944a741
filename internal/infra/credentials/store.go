package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

// Known provider slots. Tokens stored under these names override the
// corresponding environment credentials at startup.
const (
	ProviderGemini    = "gemini"
	ProviderDashScope = "dashscope"
	ProviderReplicate = "replicate"
)

var knownProviders = map[string]bool{
	ProviderGemini:    true,
	ProviderDashScope: true,
	ProviderReplicate: true,
}

// Store reads and writes hosted provider tokens in the database, so keys can
// be rotated without restarting or re-deploying.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored token for a provider, or empty when none is set.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or replaces a provider token.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider = strings.TrimSpace(strings.ToLower(provider))
	if !knownProviders[provider] {
		return fmt.Errorf("credentials: unknown provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credentials: token is required")
	}
	return s.upsert(ctx, provider, token, nil)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// ApplyOverrides fills empty credential fields in the config from stored
// tokens. Environment variables win when both are present.
func (s *Store) ApplyOverrides(ctx context.Context, cfg *infra.Config) error {
	if cfg.GeminiAPIKey == "" {
		token, err := s.Token(ctx, ProviderGemini)
		if err != nil {
			return err
		}
		cfg.GeminiAPIKey = token
	}
	if cfg.DashScopeAPIKey == "" {
		token, err := s.Token(ctx, ProviderDashScope)
		if err != nil {
			return err
		}
		cfg.DashScopeAPIKey = token
	}
	if cfg.ReplicateAPIToken == "" {
		token, err := s.Token(ctx, ProviderReplicate)
		if err != nil {
			return err
		}
		cfg.ReplicateAPIToken = token
	}
	return nil
}
