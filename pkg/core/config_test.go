package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DefaultConfig tests
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig must not return nil")
	}
	if cfg.Server.HTTPAddr != ":7070" {
		t.Errorf("expected Server.HTTPAddr ':7070', got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Data.RootPath != "./data" {
		t.Errorf("expected Data.RootPath './data', got %q", cfg.Data.RootPath)
	}
	if cfg.Data.VersionsFile != "versions.yaml" {
		t.Errorf("expected Data.VersionsFile 'versions.yaml', got %q", cfg.Data.VersionsFile)
	}
	if cfg.Search.MinSynapseCount != DefaultMinSynapseCount {
		t.Errorf("expected Search.MinSynapseCount %d, got %d", DefaultMinSynapseCount, cfg.Search.MinSynapseCount)
	}
	if cfg.Search.MinSimilarityScore != DefaultMinSimilarityScore {
		t.Errorf("expected Search.MinSimilarityScore %d, got %d", DefaultMinSimilarityScore, cfg.Search.MinSimilarityScore)
	}
	if cfg.Motif.DefaultLimit != DefaultMotifLimit {
		t.Errorf("expected Motif.DefaultLimit %d, got %d", DefaultMotifLimit, cfg.Motif.DefaultLimit)
	}
	if cfg.MCP.Enabled {
		t.Error("expected MCP disabled by default")
	}
}

func TestDefaultConfigPassesValidation(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// File / env / CLI layering
// ---------------------------------------------------------------------------

func TestConfigFromFile_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codexdb.yaml")
	yaml := `
server:
  httpAddr: ":9999"
data:
  rootPath: /srv/codex
  defaultVersion: "783"
search:
  minSynapseCount: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := ConfigFromFile(path)
	if err != nil {
		t.Fatalf("ConfigFromFile: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Data.RootPath != "/srv/codex" || cfg.Data.DefaultVersion != "783" {
		t.Errorf("data section not applied: %+v", cfg.Data)
	}
	if cfg.Search.MinSynapseCount != 10 {
		t.Errorf("MinSynapseCount = %d", cfg.Search.MinSynapseCount)
	}
	// untouched fields keep their defaults
	if cfg.Search.CacheSize != 512 {
		t.Errorf("CacheSize = %d, want default 512", cfg.Search.CacheSize)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want default", cfg.Server.ReadTimeout)
	}
}

func TestConfigFromFile_NotFound(t *testing.T) {
	if _, err := ConfigFromFile("/nonexistent/codexdb.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigFromFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ConfigFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CODEXDB_HTTP_ADDR", ":8081")
	t.Setenv("CODEXDB_DATA_ROOT", "/data")
	t.Setenv("CODEXDB_PRELOAD_DEFAULT", "false")
	t.Setenv("CODEXDB_MIN_CONNECTIVITY_SIMILARITY", "0.5")
	t.Setenv("CODEXDB_READ_TIMEOUT", "5s")
	t.Setenv("CODEXDB_RATE_LIMIT_RPS", "2.5")
	t.Setenv("CODEXDB_MCP_ALLOWED_TOOLS", "codexdb_search, codexdb_cell")
	t.Setenv("CODEXDB_SEARCH_CACHE_SIZE", "not-a-number")

	cfg := ConfigFromEnv(nil)
	if cfg.Server.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Data.RootPath != "/data" {
		t.Errorf("RootPath = %q", cfg.Data.RootPath)
	}
	if cfg.Data.PreloadDefault {
		t.Error("PreloadDefault should be false")
	}
	if cfg.Search.MinConnectivitySimilarity != 0.5 {
		t.Errorf("MinConnectivitySimilarity = %v", cfg.Search.MinConnectivitySimilarity)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.RateLimitRPS != 2.5 || cfg.Server.RateLimitBurst != 400 {
		t.Errorf("rate limit = %v/%d", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
	if len(cfg.MCP.AllowedTools) != 2 || cfg.MCP.AllowedTools[1] != "codexdb_cell" {
		t.Errorf("AllowedTools = %v", cfg.MCP.AllowedTools)
	}
	if cfg.Search.CacheSize != 512 {
		t.Errorf("invalid env value must be ignored, CacheSize = %d", cfg.Search.CacheSize)
	}
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codexdb.yaml")
	if err := os.WriteFile(path, []byte("server:\n  httpAddr: \":1111\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CODEXDB_HTTP_ADDR", ":2222")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPAddr != ":2222" {
		t.Errorf("env should win over file, got %q", cfg.Server.HTTPAddr)
	}
}

func TestApplyCLIOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyCLIOverrides(nil)

	addr := ":3333"
	minSyn := 12
	mcp := true
	cfg.ApplyCLIOverrides(&CLIOverrides{HTTPAddr: &addr, MinSynapseCount: &minSyn, MCPEnabled: &mcp})

	if cfg.Server.HTTPAddr != addr {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Search.MinSynapseCount != 12 {
		t.Errorf("MinSynapseCount = %d", cfg.Search.MinSynapseCount)
	}
	if !cfg.MCP.Enabled {
		t.Error("MCP should be enabled")
	}
	if cfg.Data.RootPath != "./data" {
		t.Errorf("unset override must not change RootPath, got %q", cfg.Data.RootPath)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty http addr", func(c *Config) { c.Server.HTTPAddr = "" }},
		{"empty data root", func(c *Config) { c.Data.RootPath = " " }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitRPS = -1 }},
		{"rate limit without burst", func(c *Config) { c.Server.RateLimitBurst = 0 }},
		{"evict before idle", func(c *Config) { c.Data.EvictAfter = time.Second }},
		{"negative evict", func(c *Config) { c.Data.EvictAfter = -time.Second }},
		{"zero cache", func(c *Config) { c.Search.CacheSize = 0 }},
		{"zero min syn", func(c *Config) { c.Search.MinSynapseCount = 0 }},
		{"similarity out of range", func(c *Config) { c.Search.MinConnectivitySimilarity = 1.5 }},
		{"motif max below default", func(c *Config) { c.Motif.MaxLimit = 1 }},
		{"mcp path", func(c *Config) { c.MCP.Enabled = true; c.MCP.Path = "mcp" }},
		{"mcp unknown tool", func(c *Config) {
			c.MCP.Enabled = true
			c.MCP.APIKey = "k"
			c.MCP.AllowedTools = []string{"codexdb_drop_everything"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestBuiltInMCPToolsSorted(t *testing.T) {
	tools := BuiltInMCPTools()
	for i := 1; i < len(tools); i++ {
		if tools[i-1] >= tools[i] {
			t.Fatalf("tools not sorted: %v", tools)
		}
	}
}
