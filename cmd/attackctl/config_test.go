package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileConfig_MissingFileIsNotAnError(t *testing.T) {
	cfg, found, err := loadFileConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if found {
		t.Error("found = true for a nonexistent file")
	}
	if cfg != (fileConfig{}) {
		t.Errorf("cfg = %+v, want zero value", cfg)
	}
}

func TestLoadFileConfig_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	const body = "provider: openai\nmodel: gpt-4o\nbudget_tokens: 42\nallow_shell: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, found, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if !found {
		t.Fatal("found = false for an existing file")
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" || cfg.BudgetTokens != 42 || !cfg.AllowShell {
		t.Errorf("cfg = %+v, unexpected values", cfg)
	}
}

func TestLoadFileConfig_MalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("provider: [unterminated"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := loadFileConfig(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestApplyFileConfig_FileFillsUnsetFlags(t *testing.T) {
	parsed := runArgs{provider: "anthropic", budgetTokens: 100_000}
	cfg := fileConfig{Provider: "openai", BudgetTokens: 42}

	out := applyFileConfig(parsed, cfg, map[string]bool{})
	if out.provider != "openai" {
		t.Errorf("provider = %q, want %q", out.provider, "openai")
	}
	if out.budgetTokens != 42 {
		t.Errorf("budgetTokens = %d, want %d", out.budgetTokens, 42)
	}
}

func TestApplyFileConfig_ExplicitFlagWins(t *testing.T) {
	parsed := runArgs{provider: "anthropic"}
	cfg := fileConfig{Provider: "openai"}

	out := applyFileConfig(parsed, cfg, map[string]bool{"provider": true})
	if out.provider != "anthropic" {
		t.Errorf("provider = %q, want explicit flag value %q", out.provider, "anthropic")
	}
}

func TestParseRunArgs_LoadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	const body = "provider: openai\nmodel: gpt-4o\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	parsed, err := parseRunArgs([]string{"-target", "https://app.example.com", "-config", path})
	if err != nil {
		t.Fatalf("parseRunArgs: %v", err)
	}
	if parsed.provider != "openai" {
		t.Errorf("provider = %q, want %q", parsed.provider, "openai")
	}
	if parsed.modelName != "gpt-4o" {
		t.Errorf("modelName = %q, want %q", parsed.modelName, "gpt-4o")
	}
}

func TestParseRunArgs_ExplicitFlagBeatsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("provider: openai\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	parsed, err := parseRunArgs([]string{"-target", "https://app.example.com", "-config", path, "-provider", "anthropic"})
	if err != nil {
		t.Fatalf("parseRunArgs: %v", err)
	}
	if parsed.provider != "anthropic" {
		t.Errorf("provider = %q, want explicit flag value %q", parsed.provider, "anthropic")
	}
}
