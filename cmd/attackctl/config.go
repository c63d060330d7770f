package main

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v2"
)

// fileConfig mirrors runArgs for the subset of fields worth defaulting from
// a config file rather than typing out on every invocation -- grounded on
// the teacher project's config.yaml pattern for multi-provider CLI tools.
type fileConfig struct {
	DB            string `yaml:"db"`
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	APIKeyEnv     string `yaml:"api_key_env"`
	LoginEndpoint string `yaml:"login_endpoint"`
	AuthMechanism string `yaml:"auth_mechanism"`
	BudgetTokens  int    `yaml:"budget_tokens"`
	AllowShell    bool   `yaml:"allow_shell"`
}

// loadFileConfig reads a YAML config file. A missing file is not an error --
// callers fall back to flag defaults -- but a malformed one is.
func loadFileConfig(path string) (fileConfig, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fileConfig{}, false, nil
	}
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}

// applyFileConfig overlays cfg onto parsed for every flag the caller did not
// explicitly set, per explicit. explicit holds the -flag names flag.Visit
// reported as set on the command line; those always win over the file.
func applyFileConfig(parsed runArgs, cfg fileConfig, explicit map[string]bool) runArgs {
	if !explicit["db"] && cfg.DB != "" {
		parsed.dbPath = cfg.DB
	}
	if !explicit["provider"] && cfg.Provider != "" {
		parsed.provider = cfg.Provider
	}
	if !explicit["model"] && cfg.Model != "" {
		parsed.modelName = cfg.Model
	}
	if !explicit["api-key-env"] && cfg.APIKeyEnv != "" {
		parsed.apiKeyEnv = cfg.APIKeyEnv
	}
	if !explicit["login-endpoint"] && cfg.LoginEndpoint != "" {
		parsed.loginEndpoint = cfg.LoginEndpoint
	}
	if !explicit["auth-mechanism"] && cfg.AuthMechanism != "" {
		parsed.authMechanism = cfg.AuthMechanism
	}
	if !explicit["budget-tokens"] && cfg.BudgetTokens != 0 {
		parsed.budgetTokens = cfg.BudgetTokens
	}
	if !explicit["allow-shell"] && cfg.AllowShell {
		parsed.allowShell = cfg.AllowShell
	}
	return parsed
}
