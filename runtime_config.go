package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// RuntimeConfig represents the system-wide configuration (/etc/optimode/config.yml)
type RuntimeConfig struct {
	Root             string `yaml:"root,omitempty"`
	Service          string `yaml:"service,omitempty"`
	DisplayManager   string `yaml:"display_manager,omitempty"`
	UseNvidiaCurrent *bool  `yaml:"use_nvidia_current,omitempty"`
	RebuildInitramfs *bool  `yaml:"rebuild_initramfs,omitempty"`
}

// envConfig holds OPTIMODE_* overrides as read by cleanenv
type envConfig struct {
	Root             string `env:"OPTIMODE_ROOT"`
	Service          string `env:"OPTIMODE_SERVICE"`
	DisplayManager   string `env:"OPTIMODE_DISPLAY_MANAGER"`
	UseNvidiaCurrent string `env:"OPTIMODE_USE_NVIDIA_CURRENT"`
	RebuildInitramfs string `env:"OPTIMODE_REBUILD_INITRAMFS"`
}

// ResolvedRuntime holds the fully resolved runtime configuration
type ResolvedRuntime struct {
	Root             string // filesystem prefix for every managed path
	Service          string // auxiliary unit toggled on switch
	DisplayManager   string // "" means auto-detect
	UseNvidiaCurrent bool
	RebuildInitramfs bool // rebuild after every switch, not only on reset
}

const defaultService = "nvidia-persistenced.service"

// RuntimeConfigPath returns the path to the configuration file.
var RuntimeConfigPath = defaultRuntimeConfigPath

func defaultRuntimeConfigPath() (string, error) {
	return "/etc/optimode/config.yml", nil
}

// LoadRuntimeConfig reads the config file. Returns zero-value config if missing.
func LoadRuntimeConfig() (*RuntimeConfig, error) {
	path, err := RuntimeConfigPath()
	if err != nil {
		return &RuntimeConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuntimeConfig{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg RuntimeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// SaveRuntimeConfig writes the config file, creating directories as needed.
func SaveRuntimeConfig(cfg *RuntimeConfig) error {
	path, err := RuntimeConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

func readEnvConfig() (*envConfig, error) {
	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &env, nil
}

// ResolveRuntime resolves the runtime configuration: env vars > config file > defaults.
func ResolveRuntime() (*ResolvedRuntime, error) {
	cfg, err := LoadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	env, err := readEnvConfig()
	if err != nil {
		return nil, err
	}

	rt := &ResolvedRuntime{
		Root:           resolveValue(env.Root, cfg.Root, "/"),
		Service:        resolveValue(env.Service, cfg.Service, defaultService),
		DisplayManager: resolveValue(env.DisplayManager, cfg.DisplayManager, ""),
	}
	if rt.UseNvidiaCurrent, err = resolveBool(env.UseNvidiaCurrent, "OPTIMODE_USE_NVIDIA_CURRENT", cfg.UseNvidiaCurrent); err != nil {
		return nil, err
	}
	if rt.RebuildInitramfs, err = resolveBool(env.RebuildInitramfs, "OPTIMODE_REBUILD_INITRAMFS", cfg.RebuildInitramfs); err != nil {
		return nil, err
	}

	if err := validateDisplayManager(rt.DisplayManager); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(rt.Root) {
		return nil, fmt.Errorf("root must be an absolute path, got %q", rt.Root)
	}

	return rt, nil
}

// resolveValue returns the first non-empty value from the chain.
func resolveValue(envVal, cfgVal, defaultVal string) string {
	if envVal != "" {
		return envVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	return defaultVal
}

func resolveBool(envVal, envName string, cfgVal *bool) (bool, error) {
	if envVal != "" {
		b, ok := parseBool(envVal)
		if !ok {
			return false, fmt.Errorf("%s must be \"true\" or \"false\", got %q", envName, envVal)
		}
		return b, nil
	}
	if cfgVal != nil {
		return *cfgVal, nil
	}
	return false, nil
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

func validateDisplayManager(value string) error {
	if value != "" && !containsString(SupportedDisplayManagers, value) {
		return fmt.Errorf("display_manager must be one of gdm, gdm3, sddm, lightdm, got %q", value)
	}
	return nil
}

const configKeys = "root, service, display_manager, use_nvidia_current, rebuild_initramfs"

func boolString(b *bool) string {
	if b == nil {
		return ""
	}
	if *b {
		return "true"
	}
	return "false"
}

// GetConfigValue returns the value for a key from the config file.
func GetConfigValue(key string) (string, error) {
	cfg, err := LoadRuntimeConfig()
	if err != nil {
		return "", err
	}

	switch key {
	case "root":
		return cfg.Root, nil
	case "service":
		return cfg.Service, nil
	case "display_manager":
		return cfg.DisplayManager, nil
	case "use_nvidia_current":
		return boolString(cfg.UseNvidiaCurrent), nil
	case "rebuild_initramfs":
		return boolString(cfg.RebuildInitramfs), nil
	default:
		return "", fmt.Errorf("unknown config key %q (valid: %s)", key, configKeys)
	}
}

// SetConfigValue sets a value for a key in the config file.
func SetConfigValue(key, value string) error {
	// Validate value before writing
	switch key {
	case "root":
		if !filepath.IsAbs(value) {
			return fmt.Errorf("root must be an absolute path, got %q", value)
		}
	case "service":
		if value == "" {
			return fmt.Errorf("service must not be empty")
		}
	case "display_manager":
		if err := validateDisplayManager(value); err != nil {
			return err
		}
	case "use_nvidia_current", "rebuild_initramfs":
		if value != "true" && value != "false" {
			return fmt.Errorf("%s must be \"true\" or \"false\", got %q", key, value)
		}
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, configKeys)
	}

	cfg, err := LoadRuntimeConfig()
	if err != nil {
		return err
	}

	b := value == "true"
	switch key {
	case "root":
		cfg.Root = value
	case "service":
		cfg.Service = value
	case "display_manager":
		cfg.DisplayManager = value
	case "use_nvidia_current":
		cfg.UseNvidiaCurrent = &b
	case "rebuild_initramfs":
		cfg.RebuildInitramfs = &b
	}

	return SaveRuntimeConfig(cfg)
}

// ResetConfigValue removes a key from the config file (reverts to default).
// If key is empty, resets the entire config.
func ResetConfigValue(key string) error {
	if key == "" {
		return SaveRuntimeConfig(&RuntimeConfig{})
	}

	cfg, err := LoadRuntimeConfig()
	if err != nil {
		return err
	}

	switch key {
	case "root":
		cfg.Root = ""
	case "service":
		cfg.Service = ""
	case "display_manager":
		cfg.DisplayManager = ""
	case "use_nvidia_current":
		cfg.UseNvidiaCurrent = nil
	case "rebuild_initramfs":
		cfg.RebuildInitramfs = nil
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, configKeys)
	}

	return SaveRuntimeConfig(cfg)
}

// configKeySource describes where a config value comes from.
type configKeySource struct {
	Key    string
	Value  string
	Source string // "env (NAME)", "config", "default"
}

// ListConfigValues returns all config keys with their resolved values and sources.
func ListConfigValues() ([]configKeySource, error) {
	cfg, err := LoadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	env, err := readEnvConfig()
	if err != nil {
		return nil, err
	}

	resolve := func(key, envName, envVal, cfgVal, defaultVal string) configKeySource {
		if envVal != "" {
			return configKeySource{Key: key, Value: envVal, Source: "env (" + envName + ")"}
		}
		if cfgVal != "" {
			return configKeySource{Key: key, Value: cfgVal, Source: "config"}
		}
		return configKeySource{Key: key, Value: defaultVal, Source: "default"}
	}

	return []configKeySource{
		resolve("root", "OPTIMODE_ROOT", env.Root, cfg.Root, "/"),
		resolve("service", "OPTIMODE_SERVICE", env.Service, cfg.Service, defaultService),
		resolve("display_manager", "OPTIMODE_DISPLAY_MANAGER", env.DisplayManager, cfg.DisplayManager, ""),
		resolve("use_nvidia_current", "OPTIMODE_USE_NVIDIA_CURRENT", env.UseNvidiaCurrent, boolString(cfg.UseNvidiaCurrent), "false"),
		resolve("rebuild_initramfs", "OPTIMODE_REBUILD_INITRAMFS", env.RebuildInitramfs, boolString(cfg.RebuildInitramfs), "false"),
	}, nil
}
