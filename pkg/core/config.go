package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMinSynapseCount is the synapse threshold used for connectivity
	// sets and motif edges when none is given.
	DefaultMinSynapseCount = 5

	// DefaultMinSimilarityScore is the lowest morphology similarity score kept
	// at load time.
	DefaultMinSimilarityScore = 4

	// DefaultMotifLimit caps the number of motif matches returned per search.
	DefaultMotifLimit = 1000

	// MaxPathwayNodes caps the source/target lists accepted by pathway and
	// distance-matrix entry points.
	MaxPathwayNodes = 10
)

var builtInMCPTools = map[string]struct{}{
	"codexdb_search":       {},
	"codexdb_cell":         {},
	"codexdb_connections":  {},
	"codexdb_pathways":     {},
	"codexdb_motif_search": {},
	"codexdb_versions":     {},
}

// ---------------------------------------------------------------------------
// Config
//
// Resolved through a four-level hierarchy, each layer overriding the one
// beneath it:
//
//	Priority (highest first):
//	  1. CLI flags explicitly set on the command line
//	  2. Environment variables (CODEXDB_* prefix)
//	  3. YAML configuration file
//	  4. Built-in defaults
// ---------------------------------------------------------------------------

// ServerConfig groups network listener settings.
type ServerConfig struct {
	// HTTPAddr is the TCP address the JSON API binds to.
	HTTPAddr string `yaml:"httpAddr"`

	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// MaxRequestBody is the maximum accepted request body in bytes. 0 disables the limit.
	MaxRequestBody int64 `yaml:"maxRequestBody"`

	// RateLimitRPS is the per-client request rate of the HTTP API. 0 disables it.
	RateLimitRPS   float64 `yaml:"rateLimitRPS"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`

	// RateLimitIdle forgets a client after this long without requests.
	RateLimitIdle time.Duration `yaml:"rateLimitIdle"`
}

// DataConfig points at the dataset versions on disk.
type DataConfig struct {
	// RootPath holds one directory per dataset version.
	RootPath string `yaml:"rootPath"`

	// DefaultVersion is served when a request names no version.
	DefaultVersion string `yaml:"defaultVersion"`

	// VersionsFile is the registry file, relative to RootPath unless absolute.
	VersionsFile string `yaml:"versionsFile"`

	// CompressSnapshots gzips snapshot bodies written by build-snapshot.
	CompressSnapshots bool `yaml:"compressSnapshots"`

	// PreferSnapshot loads the prebuilt snapshot when one exists.
	PreferSnapshot bool `yaml:"preferSnapshot"`

	// PreloadDefault loads the default version during startup.
	PreloadDefault bool `yaml:"preloadDefault"`

	// IdleAfter marks a loaded version idle after this long without requests.
	IdleAfter time.Duration `yaml:"idleAfter"`

	// EvictAfter unloads a version after this long without requests. The
	// default version stays loaded. 0 disables eviction.
	EvictAfter time.Duration `yaml:"evictAfter"`
}

// SearchConfig holds query-time tunables.
type SearchConfig struct {
	// CacheSize is the number of memoized search results kept per dataset.
	CacheSize int `yaml:"cacheSize"`

	MinSynapseCount           int     `yaml:"minSynapseCount"`
	MinSimilarityScore        int     `yaml:"minSimilarityScore"`
	MinConnectivitySimilarity float64 `yaml:"minConnectivitySimilarity"`
	MaxConnectivityCandidates int     `yaml:"maxConnectivityCandidates"`
}

// MotifConfig bounds motif search.
type MotifConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxLimit     int `yaml:"maxLimit"`
}

// MCPConfig groups Model Context Protocol endpoint settings.
type MCPConfig struct {
	// Enabled controls whether the MCP endpoint is exposed.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP route for MCP transport.
	Path string `yaml:"path"`

	// APIKey is an optional shared secret validated from X-API-Key or Bearer token.
	APIKey string `yaml:"apiKey"`

	// Stateless enables stateless session-id handling for streamable HTTP.
	Stateless bool `yaml:"stateless"`

	// RateLimitRPS is the per-client rate in requests/second. 0 disables it.
	RateLimitRPS float64 `yaml:"rateLimitRPS"`

	RateLimitBurst int `yaml:"rateLimitBurst"`

	// EnablePrompts toggles MCP prompt registration.
	EnablePrompts bool `yaml:"enablePrompts"`

	// AllowedTools is an optional allowlist; empty means all built-in tools.
	AllowedTools []string `yaml:"allowedTools"`
}

// Config is the root configuration object for a codexdb process.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Search SearchConfig `yaml:"search"`
	Motif  MotifConfig  `yaml:"motif"`
	MCP    MCPConfig    `yaml:"mcp"`
}

// ---------------------------------------------------------------------------
// Factory functions
// ---------------------------------------------------------------------------

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:       ":7070",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxRequestBody: 1 << 20,
			RateLimitRPS:   200,
			RateLimitBurst: 400,
			RateLimitIdle:  10 * time.Minute,
		},
		Data: DataConfig{
			RootPath:          "./data",
			DefaultVersion:    "",
			VersionsFile:      "versions.yaml",
			CompressSnapshots: true,
			PreferSnapshot:    true,
			PreloadDefault:    true,
			IdleAfter:         5 * time.Minute,
			EvictAfter:        0,
		},
		Search: SearchConfig{
			CacheSize:                 512,
			MinSynapseCount:           DefaultMinSynapseCount,
			MinSimilarityScore:        DefaultMinSimilarityScore,
			MinConnectivitySimilarity: 0.2,
			MaxConnectivityCandidates: 5000,
		},
		Motif: MotifConfig{
			DefaultLimit: DefaultMotifLimit,
			MaxLimit:     10000,
		},
		MCP: MCPConfig{
			Enabled:        false,
			Path:           "/mcp",
			Stateless:      true,
			RateLimitRPS:   30,
			RateLimitBurst: 60,
			EnablePrompts:  true,
		},
	}
}

// ConfigFromFile reads a YAML configuration file and merges it on top of
// the built-in defaults. Fields absent from the file retain their defaults.
func ConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// ConfigFromEnv applies environment variable overrides to the given Config.
// If cfg is nil a new default Config is created first.
//
//	CODEXDB_HTTP_ADDR                  Server.HTTPAddr
//	CODEXDB_READ_TIMEOUT               Server.ReadTimeout (duration)
//	CODEXDB_WRITE_TIMEOUT              Server.WriteTimeout (duration)
//	CODEXDB_MAX_REQUEST_BODY           Server.MaxRequestBody (bytes)
//	CODEXDB_RATE_LIMIT_RPS             Server.RateLimitRPS
//	CODEXDB_RATE_LIMIT_BURST           Server.RateLimitBurst
//	CODEXDB_RATE_LIMIT_IDLE            Server.RateLimitIdle (duration)
//	CODEXDB_DATA_ROOT                  Data.RootPath
//	CODEXDB_DEFAULT_VERSION            Data.DefaultVersion
//	CODEXDB_VERSIONS_FILE              Data.VersionsFile
//	CODEXDB_COMPRESS_SNAPSHOTS         Data.CompressSnapshots
//	CODEXDB_PREFER_SNAPSHOT            Data.PreferSnapshot
//	CODEXDB_PRELOAD_DEFAULT            Data.PreloadDefault
//	CODEXDB_IDLE_AFTER                 Data.IdleAfter (duration)
//	CODEXDB_EVICT_AFTER                Data.EvictAfter (duration)
//	CODEXDB_SEARCH_CACHE_SIZE          Search.CacheSize
//	CODEXDB_MIN_SYNAPSE_COUNT          Search.MinSynapseCount
//	CODEXDB_MIN_SIMILARITY_SCORE       Search.MinSimilarityScore
//	CODEXDB_MIN_CONNECTIVITY_SIMILARITY Search.MinConnectivitySimilarity
//	CODEXDB_MOTIF_DEFAULT_LIMIT        Motif.DefaultLimit
//	CODEXDB_MOTIF_MAX_LIMIT            Motif.MaxLimit
//	CODEXDB_MCP_ENABLED                MCP.Enabled
//	CODEXDB_MCP_PATH                   MCP.Path
//	CODEXDB_MCP_API_KEY                MCP.APIKey
//	CODEXDB_MCP_STATELESS              MCP.Stateless
//	CODEXDB_MCP_RATE_LIMIT_RPS         MCP.RateLimitRPS
//	CODEXDB_MCP_RATE_LIMIT_BURST       MCP.RateLimitBurst
//	CODEXDB_MCP_ENABLE_PROMPTS         MCP.EnablePrompts
//	CODEXDB_MCP_ALLOWED_TOOLS          MCP.AllowedTools (comma-separated)
func ConfigFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// -- Server --
	setEnvStr("CODEXDB_HTTP_ADDR", &cfg.Server.HTTPAddr)
	setEnvDuration("CODEXDB_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setEnvDuration("CODEXDB_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setEnvInt64("CODEXDB_MAX_REQUEST_BODY", &cfg.Server.MaxRequestBody)
	setEnvFloat("CODEXDB_RATE_LIMIT_RPS", &cfg.Server.RateLimitRPS)
	setEnvInt("CODEXDB_RATE_LIMIT_BURST", &cfg.Server.RateLimitBurst)
	setEnvDuration("CODEXDB_RATE_LIMIT_IDLE", &cfg.Server.RateLimitIdle)

	// -- Data --
	setEnvStr("CODEXDB_DATA_ROOT", &cfg.Data.RootPath)
	setEnvStr("CODEXDB_DEFAULT_VERSION", &cfg.Data.DefaultVersion)
	setEnvStr("CODEXDB_VERSIONS_FILE", &cfg.Data.VersionsFile)
	setEnvBool("CODEXDB_COMPRESS_SNAPSHOTS", &cfg.Data.CompressSnapshots)
	setEnvBool("CODEXDB_PREFER_SNAPSHOT", &cfg.Data.PreferSnapshot)
	setEnvBool("CODEXDB_PRELOAD_DEFAULT", &cfg.Data.PreloadDefault)
	setEnvDuration("CODEXDB_IDLE_AFTER", &cfg.Data.IdleAfter)
	setEnvDuration("CODEXDB_EVICT_AFTER", &cfg.Data.EvictAfter)

	// -- Search --
	setEnvInt("CODEXDB_SEARCH_CACHE_SIZE", &cfg.Search.CacheSize)
	setEnvInt("CODEXDB_MIN_SYNAPSE_COUNT", &cfg.Search.MinSynapseCount)
	setEnvInt("CODEXDB_MIN_SIMILARITY_SCORE", &cfg.Search.MinSimilarityScore)
	setEnvFloat("CODEXDB_MIN_CONNECTIVITY_SIMILARITY", &cfg.Search.MinConnectivitySimilarity)

	// -- Motif --
	setEnvInt("CODEXDB_MOTIF_DEFAULT_LIMIT", &cfg.Motif.DefaultLimit)
	setEnvInt("CODEXDB_MOTIF_MAX_LIMIT", &cfg.Motif.MaxLimit)

	// -- MCP --
	setEnvBool("CODEXDB_MCP_ENABLED", &cfg.MCP.Enabled)
	setEnvStr("CODEXDB_MCP_PATH", &cfg.MCP.Path)
	setEnvStr("CODEXDB_MCP_API_KEY", &cfg.MCP.APIKey)
	setEnvBool("CODEXDB_MCP_STATELESS", &cfg.MCP.Stateless)
	setEnvFloat("CODEXDB_MCP_RATE_LIMIT_RPS", &cfg.MCP.RateLimitRPS)
	setEnvInt("CODEXDB_MCP_RATE_LIMIT_BURST", &cfg.MCP.RateLimitBurst)
	setEnvBool("CODEXDB_MCP_ENABLE_PROMPTS", &cfg.MCP.EnablePrompts)
	setEnvCSV("CODEXDB_MCP_ALLOWED_TOOLS", &cfg.MCP.AllowedTools)

	return cfg
}

// LoadConfig applies defaults, the optional YAML file and the environment,
// in that order. CLI overrides are applied by the caller afterwards.
func LoadConfig(configPath string) (*Config, error) {
	var cfg *Config

	if configPath != "" {
		var err error
		cfg, err = ConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = DefaultConfig()
	}

	cfg = ConfigFromEnv(cfg)
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate returns a descriptive error for the first invalid field.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.httpAddr must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.readTimeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.writeTimeout must be > 0")
	}
	if c.Server.MaxRequestBody < 0 {
		return fmt.Errorf("server.maxRequestBody must be >= 0 (0 = unlimited)")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rateLimitRPS must be >= 0 (0 = unlimited)")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rateLimitBurst must be > 0 when rate limiting is enabled")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitIdle <= 0 {
		return fmt.Errorf("server.rateLimitIdle must be > 0 when rate limiting is enabled")
	}

	if strings.TrimSpace(c.Data.RootPath) == "" {
		return fmt.Errorf("data.rootPath must not be empty")
	}
	if strings.TrimSpace(c.Data.VersionsFile) == "" {
		return fmt.Errorf("data.versionsFile must not be empty")
	}
	if c.Data.IdleAfter <= 0 {
		return fmt.Errorf("data.idleAfter must be > 0")
	}
	if c.Data.EvictAfter < 0 {
		return fmt.Errorf("data.evictAfter must be >= 0 (0 = never)")
	}
	if c.Data.EvictAfter > 0 && c.Data.EvictAfter < c.Data.IdleAfter {
		return fmt.Errorf("data.evictAfter (%s) must be >= data.idleAfter (%s)", c.Data.EvictAfter, c.Data.IdleAfter)
	}

	if c.Search.CacheSize <= 0 {
		return fmt.Errorf("search.cacheSize must be > 0, got %d", c.Search.CacheSize)
	}
	if c.Search.MinSynapseCount < 1 {
		return fmt.Errorf("search.minSynapseCount must be >= 1, got %d", c.Search.MinSynapseCount)
	}
	if c.Search.MinSimilarityScore < 0 || c.Search.MinSimilarityScore >= 10 {
		return fmt.Errorf("search.minSimilarityScore must be in [0, 10), got %d", c.Search.MinSimilarityScore)
	}
	if c.Search.MinConnectivitySimilarity < 0 || c.Search.MinConnectivitySimilarity > 1 {
		return fmt.Errorf("search.minConnectivitySimilarity must be between 0.0 and 1.0, got %f", c.Search.MinConnectivitySimilarity)
	}
	if c.Search.MaxConnectivityCandidates < 0 {
		return fmt.Errorf("search.maxConnectivityCandidates must be >= 0")
	}

	if c.Motif.DefaultLimit <= 0 {
		return fmt.Errorf("motif.defaultLimit must be > 0")
	}
	if c.Motif.MaxLimit < c.Motif.DefaultLimit {
		return fmt.Errorf("motif.maxLimit (%d) must be >= motif.defaultLimit (%d)", c.Motif.MaxLimit, c.Motif.DefaultLimit)
	}

	if c.MCP.Enabled {
		path := strings.TrimSpace(c.MCP.Path)
		if path == "" || !strings.HasPrefix(path, "/") {
			return fmt.Errorf("mcp.path must start with '/'")
		}
		if c.MCP.RateLimitRPS < 0 {
			return fmt.Errorf("mcp.rateLimitRPS must be >= 0")
		}
		if c.MCP.RateLimitRPS > 0 && c.MCP.RateLimitBurst <= 0 {
			return fmt.Errorf("mcp.rateLimitBurst must be > 0 when rate limiting is enabled")
		}
		for _, tool := range c.MCP.AllowedTools {
			if _, ok := builtInMCPTools[tool]; !ok {
				return fmt.Errorf("mcp.allowedTools contains unknown tool %q (known: %s)", tool, strings.Join(BuiltInMCPTools(), ", "))
			}
		}
		if c.MCP.APIKey == "" {
			log.Printf("WARNING: MCP endpoint enabled without an API key")
		}
	}

	return nil
}

// BuiltInMCPTools returns the sorted names of all MCP tools.
func BuiltInMCPTools() []string {
	out := make([]string, 0, len(builtInMCPTools))
	for name := range builtInMCPTools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Environment variable helpers
// ---------------------------------------------------------------------------

func setEnvStr(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// setEnvBool accepts anything strconv.ParseBool does.
func setEnvBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func setEnvInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setEnvInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func setEnvDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func setEnvFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setEnvCSV(key string, target *[]string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		*target = out
	}
}

// ---------------------------------------------------------------------------
// CLI flag overrides
// ---------------------------------------------------------------------------

// CLIOverrides carries optional values set via command-line flags.
// Pointer fields are nil when the flag was not explicitly provided.
type CLIOverrides struct {
	ConfigPath        *string
	HTTPAddr          *string
	DataRoot          *string
	DefaultVersion    *string
	CompressSnapshots *bool
	PreferSnapshot    *bool
	PreloadDefault    *bool
	EvictAfter        *time.Duration
	SearchCacheSize   *int
	MinSynapseCount   *int
	MotifDefaultLimit *int
	MCPEnabled        *bool
	MCPPath           *string
	MCPAPIKey         *string
	MaxRequestBody    *int64
	ReadTimeout       *time.Duration
	WriteTimeout      *time.Duration
}

// ApplyCLIOverrides patches the Config with any explicitly-set CLI flags.
func (c *Config) ApplyCLIOverrides(o *CLIOverrides) {
	if o == nil {
		return
	}
	if o.HTTPAddr != nil {
		c.Server.HTTPAddr = *o.HTTPAddr
	}
	if o.DataRoot != nil {
		c.Data.RootPath = *o.DataRoot
	}
	if o.DefaultVersion != nil {
		c.Data.DefaultVersion = *o.DefaultVersion
	}
	if o.CompressSnapshots != nil {
		c.Data.CompressSnapshots = *o.CompressSnapshots
	}
	if o.PreferSnapshot != nil {
		c.Data.PreferSnapshot = *o.PreferSnapshot
	}
	if o.PreloadDefault != nil {
		c.Data.PreloadDefault = *o.PreloadDefault
	}
	if o.EvictAfter != nil {
		c.Data.EvictAfter = *o.EvictAfter
	}
	if o.SearchCacheSize != nil {
		c.Search.CacheSize = *o.SearchCacheSize
	}
	if o.MinSynapseCount != nil {
		c.Search.MinSynapseCount = *o.MinSynapseCount
	}
	if o.MotifDefaultLimit != nil {
		c.Motif.DefaultLimit = *o.MotifDefaultLimit
	}
	if o.MCPEnabled != nil {
		c.MCP.Enabled = *o.MCPEnabled
	}
	if o.MCPPath != nil {
		c.MCP.Path = *o.MCPPath
	}
	if o.MCPAPIKey != nil {
		c.MCP.APIKey = *o.MCPAPIKey
	}
	if o.MaxRequestBody != nil {
		c.Server.MaxRequestBody = *o.MaxRequestBody
	}
	if o.ReadTimeout != nil {
		c.Server.ReadTimeout = *o.ReadTimeout
	}
	if o.WriteTimeout != nil {
		c.Server.WriteTimeout = *o.WriteTimeout
	}
}

// ---------------------------------------------------------------------------
// Lifecycle helpers
// ---------------------------------------------------------------------------

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is done, then cancels.
func WaitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating shutdown...", sig)
		cancel()
	case <-ctx.Done():
	}
}

// PrintBanner prints the codexdb banner to stdout.
func PrintBanner() {
	banner := `
                  _           _ _
  ___ ___   __| | _____  __| | |__
 / __/ _ \ / _` + "`" + ` |/ _ \ \/ / _` + "`" + ` | '_ \
| (_| (_) | (_| |  __/>  < (_| | |_) |
 \___\___/ \__,_|\___/_/\_\__,_|_.__/

    In-memory connectome browser core
    ---------------------------------
`
	fmt.Print(banner)
}
