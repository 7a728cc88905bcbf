package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxDecimals = 36

type tokenFile struct {
	Tokens []Descriptor `json:"tokens" yaml:"tokens"`
}

// LoadFile reads a token list. Files ending in .yaml or .yml are parsed as
// YAML, anything else as JSON. Both use the {"tokens": [...]} layout.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token list: %w", err)
	}

	var f tokenFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse token list yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse token list json: %w", err)
		}
	}

	if err := Validate(f.Tokens); err != nil {
		return nil, fmt.Errorf("validate token list: %w", err)
	}
	return f.Tokens, nil
}

// Validate checks ids and method parameters across a token list.
func Validate(tokens []Descriptor) error {
	if len(tokens) == 0 {
		return errors.New("no tokens configured")
	}
	seen := make(map[string]bool, len(tokens))
	for i, t := range tokens {
		if t.ID == "" {
			return fmt.Errorf("tokens[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tokens[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true

		if t.OnChain() && t.Chain == "" {
			return fmt.Errorf("%s: chain is required for %s tokens", t.ID, t.Type)
		}
		if t.Decimals < 0 || t.Decimals > maxDecimals {
			return fmt.Errorf("%s: decimals must be between 0 and %d, got %d", t.ID, maxDecimals, t.Decimals)
		}
		if u := t.UnderlyingDecimals; u != nil && (*u < 0 || *u > maxDecimals) {
			return fmt.Errorf("%s: underlyingDecimals must be between 0 and %d, got %d", t.ID, maxDecimals, *u)
		}
	}
	return nil
}
