package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

// CredentialsYAML is the layout of the optional LLM_API_KEYS_FILE.
type CredentialsYAML struct {
	Keys []string `yaml:"keys"`
}

// Credentials returns the ordered, de-duplicated credential pool. Order is
// LLM_API_KEYS, then LLM_API_KEY, then the keys file. An empty pool is a
// startup error wrapping domain.ErrNoCredentials.
func (c Config) Credentials() ([]string, error) {
	raw := make([]string, 0, len(c.LLMAPIKeys)+1)
	raw = append(raw, c.LLMAPIKeys...)
	raw = append(raw, c.LLMAPIKey)
	if c.LLMAPIKeysFile != "" {
		fromFile, err := loadKeysFromYAML(c.LLMAPIKeysFile)
		if err != nil {
			return nil, fmt.Errorf("op=config.Credentials: %w", err)
		}
		raw = append(raw, fromFile...)
	}

	keys := dedupeKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("op=config.Credentials: %w: set LLM_API_KEYS, LLM_API_KEY or LLM_API_KEYS_FILE", domain.ErrNoCredentials)
	}
	return keys, nil
}

func loadKeysFromYAML(filePath string) ([]string, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// #nosec G304 -- path comes from operator configuration
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys file: %w", err)
	}

	var doc CredentialsYAML
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse keys file: %w", err)
	}
	return doc.Keys, nil
}

func dedupeKeys(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
