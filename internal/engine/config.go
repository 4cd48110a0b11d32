package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilnhq/kiln/internal/paths"
	"github.com/kilnhq/kiln/internal/runner"
)

// Environment variable prefix. KILN_STAGE__TIMEOUT=10m maps to the
// stage.timeout key.
const envPrefix = "KILN_"

type Config struct {
	Store   StoreConfig `koanf:"store"`
	Library string      `koanf:"library"` // Stage library directory.
	Output  string      `koanf:"output"`  // Default output directory.
	Stage   StageConfig `koanf:"stage"`
	Fetch   FetchConfig `koanf:"fetch"`
}

type StoreConfig struct {
	Dir   string `koanf:"dir"`
	Limit int64  `koanf:"limit"` // Prune target in bytes. Zero disables pruning.
}

type StageConfig struct {
	Timeout time.Duration `koanf:"timeout"` // Wall-clock bound per stage invocation.
	Sandbox string        `koanf:"sandbox"` // "none" or "namespace".
}

type FetchConfig struct {
	Concurrency int `koanf:"concurrency"` // Parallel source downloads.
}

// Loads the configuration, merging the config file, environment variables,
// and built-in defaults, in that order of precedence from lowest to
// highest for file and environment and falling back to defaults for keys
// neither sets.
//
// An empty path means the default config file location; a missing file at
// the default location is not an error, a missing file at an explicit path
// is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = paths.Config()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"store.dir":         paths.Store(),
		"store.limit":       int64(0),
		"library":           paths.Library(),
		"output":            "output",
		"stage.timeout":     runner.DefaultTimeout.String(),
		"stage.sandbox":     string(runner.SandboxNone),
		"fetch.concurrency": 4,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Stage.Sandbox != string(runner.SandboxNone) && cfg.Stage.Sandbox != string(runner.SandboxNamespace) {
		return nil, fmt.Errorf("unknown sandbox mode %q", cfg.Stage.Sandbox)
	}

	return &cfg, nil
}
