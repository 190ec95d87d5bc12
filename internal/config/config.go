// SPDX-License-Identifier: MIT

// Package config loads cmd/satlink's process configuration from defaults,
// an optional YAML file, and environment variable overrides, layering
// sources with knadh/koanf.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable of the simulated downlink that a deployment
// might want to override without a recompile.
type Config struct {
	RawFilePath  string        `koanf:"raw_file_path"`
	ListenAddr   string        `koanf:"listen_addr"`
	SendAddr     string        `koanf:"send_addr"`
	Seed         int64         `koanf:"seed"`
	ChunkBytes   int           `koanf:"chunk_bytes"`
	RepCopies    int           `koanf:"rep_copies"`
	BaseLoss     float64       `koanf:"base_loss"`
	BaseBitError float64       `koanf:"base_bit_error"`
	MaxAge       time.Duration `koanf:"max_age"`
}

// Default returns the library's built-in configuration defaults, suitable
// as a base layer before file/env overrides.
func Default() Config {
	return Config{
		RawFilePath:  "raw_frame.bin",
		ListenAddr:   "127.0.0.1:6001",
		SendAddr:     "127.0.0.1:6001",
		Seed:         0,
		ChunkBytes:   6000,
		RepCopies:    5,
		BaseLoss:     0.08,
		BaseBitError: 0.02,
		MaxAge:       900 * time.Second,
	}
}

// Load builds a Config from, in increasing precedence: library defaults,
// an optional YAML file at path (skipped if path is empty), and
// SATLINK_-prefixed environment variables (SATLINK_CHUNK_BYTES maps to
// chunk_bytes, etc).
func Load(path string) (Config, error) {
	cfg := Default()

	k := koanf.New(".")
	defaults := map[string]interface{}{
		"raw_file_path":  cfg.RawFilePath,
		"listen_addr":    cfg.ListenAddr,
		"send_addr":      cfg.SendAddr,
		"seed":           cfg.Seed,
		"chunk_bytes":    cfg.ChunkBytes,
		"rep_copies":     cfg.RepCopies,
		"base_loss":      cfg.BaseLoss,
		"base_bit_error": cfg.BaseBitError,
		"max_age":        cfg.MaxAge,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, err
		}
	}

	envProvider := env.Provider("SATLINK_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "SATLINK_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, err
	}

	var out Config
	if err := k.Unmarshal("", &out); err != nil {
		return Config{}, err
	}
	return out, nil
}
