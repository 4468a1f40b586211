package strategyconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the policy YAML and returns Config with raw bytes.
// KnownFields(true) makes typos and removed fields fail immediately
// instead of silently falling back to zero values.
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, data, err
	}

	return &cfg, data, nil
}

// Hash generates a SHA256 hash from Config (canonical JSON).
// Structs, not maps, so field order and therefore the hash stay stable.
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// NewPolicySnapshot creates a snapshot for audit
func NewPolicySnapshot(cfg *Config, yamlData []byte, gitCommit string) (*PolicySnapshot, error) {
	hash, err := Hash(cfg)
	if err != nil {
		return nil, err
	}

	return &PolicySnapshot{
		ConfigHash: hash,
		ConfigYAML: string(yamlData),
		PolicyID:   cfg.Meta.PolicyID,
		GitCommit:  gitCommit,
		CreatedAt:  time.Now(),
	}, nil
}
