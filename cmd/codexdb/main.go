package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/neurocodex/codexdb/pkg/api"
	"github.com/neurocodex/codexdb/pkg/concurrency"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/lifecycle"
	"github.com/neurocodex/codexdb/pkg/persistence"
	"github.com/neurocodex/codexdb/pkg/registry"
)

func main() {
	var o core.CLIOverrides

	rootCmd := &cobra.Command{
		Use:          "codexdb",
		Short:        "codexdb - in-memory connectome browser core",
		Long:         "Serves search, connectivity, pathway and motif queries over versioned connectome datasets.",
		SilenceUsage: true,
	}

	// Config flags are shared by every subcommand and take the highest
	// priority in the config hierarchy.
	f := rootCmd.PersistentFlags()
	o.ConfigPath = f.StringP("config", "f", "", "Path to YAML config file (overrides CODEXDB_CONFIG env)")
	o.DataRoot = f.String("data-root", "", "Directory holding one subdirectory per dataset version")
	o.DefaultVersion = f.String("default-version", "", "Version served when a request names none")
	o.PreferSnapshot = f.Bool("prefer-snapshot", true, "Load prebuilt snapshots when present")
	o.MinSynapseCount = f.Int("min-syn-count", 0, "Default synapse threshold for partner and pathway queries")
	o.SearchCacheSize = f.Int("search-cache-size", 0, "Memoized search results kept per dataset")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and MCP endpoint when enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Flags(), &o)
		},
	}
	sf := serveCmd.Flags()
	o.HTTPAddr = sf.String("http-addr", "", "HTTP listen address")
	o.PreloadDefault = sf.Bool("preload", true, "Load the default version before accepting requests")
	o.EvictAfter = sf.Duration("evict-after", 0, "Unload non-default versions idle this long (0 = never)")
	o.MotifDefaultLimit = sf.Int("motif-limit", 0, "Default motif match limit")
	o.MCPEnabled = sf.Bool("mcp", false, "Expose the MCP endpoint")
	o.MCPPath = sf.String("mcp-path", "", "HTTP route of the MCP endpoint")
	o.MCPAPIKey = sf.String("mcp-api-key", "", "Shared secret required on MCP requests")
	o.MaxRequestBody = sf.Int64("max-request-body", 0, "Maximum request body in bytes")
	o.ReadTimeout = sf.Duration("read-timeout", 0, "HTTP read timeout")
	o.WriteTimeout = sf.Duration("write-timeout", 0, "HTTP write timeout")

	var description string
	buildCmd := &cobra.Command{
		Use:   "build-snapshot [version]",
		Short: "Build a version from its tables and write its snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := ""
			if len(args) == 1 {
				version = args[0]
			}
			return buildSnapshot(cmd.Context(), cmd.Flags(), &o, version, description)
		},
	}
	buildCmd.Flags().StringVar(&description, "description", "", "Description recorded when the version is new to the registry")
	o.CompressSnapshots = buildCmd.Flags().Bool("compress", true, "Gzip the snapshot body")

	rootCmd.AddCommand(serveCmd, buildCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves defaults -> YAML -> env -> explicit flags.
func loadConfig(flags *pflag.FlagSet, o *core.CLIOverrides) (*core.Config, error) {
	configPath := ""
	if o.ConfigPath != nil && *o.ConfigPath != "" {
		configPath = *o.ConfigPath
	} else {
		configPath = os.Getenv("CODEXDB_CONFIG")
	}

	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyExplicitFlags(flags, cfg, o)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// serve implements the server startup sequence after CLI flags are parsed.
func serve(flags *pflag.FlagSet, o *core.CLIOverrides) error {
	core.PrintBanner()

	cfg, err := loadConfig(flags, o)
	if err != nil {
		return err
	}
	log.Printf("Data root: %s", cfg.Data.RootPath)
	log.Printf("HTTP: %s", cfg.Server.HTTPAddr)

	reg, err := registry.NewStore(cfg.Data.RootPath, cfg.Data.VersionsFile)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	if reg.Discovered() {
		log.Printf("No versions file, discovered %d version(s) under %s", reg.Count(), cfg.Data.RootPath)
	} else {
		log.Printf("Version registry initialized (%d entries)", reg.Count())
	}
	if cfg.Data.DefaultVersion != "" && cfg.Data.DefaultVersion != reg.Default() {
		if err := reg.SetDefault(cfg.Data.DefaultVersion); err != nil {
			return fmt.Errorf("default version: %w", err)
		}
	}

	store := persistence.NewStore(cfg.Data.CompressSnapshots)

	// Snapshots from another attribute schema are fatal at startup.
	if cfg.Data.PreferSnapshot {
		if err := verifySnapshots(reg, store); err != nil {
			return err
		}
	}

	pool := concurrency.NewDatasetPool(reg, store, cfg)
	log.Println("Dataset pool initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Data.PreloadDefault && reg.Count() > 0 {
		if err := pool.Preload(ctx, ""); err != nil {
			return fmt.Errorf("failed to preload version %s: %w", reg.Default(), err)
		}
	}

	lm := lifecycle.NewManager(cfg.Data.IdleAfter, cfg.Data.EvictAfter)
	lm.SetPinned(func(version string) bool { return version == reg.Default() })
	lm.SetCallbacks(
		func(version string) {
			log.Printf("Version %s idle", version)
		},
		func(version string) {
			if pool.Evict(version) {
				log.Printf("Version %s unloaded after %s without requests", version, cfg.Data.EvictAfter)
			}
		},
		func(version string) {
			log.Printf("Version %s back in use", version)
		},
	)
	lm.StartMonitor(monitorInterval(cfg.Data.IdleAfter))
	log.Println("Lifecycle manager initialized")

	httpServer := api.NewServer(cfg.Server.HTTPAddr, pool, cfg)
	httpServer.SetLifecycle(lm)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			errCh <- err
			cancel()
		}
	}()

	log.Println("codexdb is ready!")
	log.Println("--------------------------------------------")

	core.WaitForShutdown(ctx, cancel)

	log.Println("Initiating graceful shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	lm.Stop()
	log.Printf("Pool at shutdown: %v", pool.Stats())
	log.Println("codexdb shutdown complete")

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// monitorInterval checks a few times per idle period, at most every 30s.
func monitorInterval(idle time.Duration) time.Duration {
	return max(min(idle/4, 30*time.Second), time.Second)
}

func verifySnapshots(reg *registry.Store, store *persistence.Store) error {
	for _, e := range reg.List() {
		dir := reg.Dir(e)
		if !store.HasSnapshot(dir) {
			continue
		}
		header, err := store.VerifySnapshot(dir)
		if err != nil {
			return fmt.Errorf("version %s: %w (run build-snapshot %s)", e.ID, err, e.ID)
		}
		log.Printf("Version %s: snapshot build %s from %s", e.ID, header.Build(), humanize.Time(header.Created()))
	}
	return nil
}

// buildSnapshot loads a version from its raw tables and writes its snapshot.
// Unknown versions with a data directory are registered first.
func buildSnapshot(ctx context.Context, flags *pflag.FlagSet, o *core.CLIOverrides, version, description string) error {
	cfg, err := loadConfig(flags, o)
	if err != nil {
		return err
	}
	cfg.Data.PreferSnapshot = false

	reg, err := registry.NewStore(cfg.Data.RootPath, cfg.Data.VersionsFile)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	if version == "" {
		version = reg.Default()
	}
	if version == "" {
		return fmt.Errorf("%w: no version given and none registered", core.ErrVersionUnavailable)
	}
	if !reg.Exists(version) {
		if _, created, err := reg.Register(version, description); err != nil {
			return err
		} else if created {
			log.Printf("Registered version %s", version)
		}
	}

	store := persistence.NewStore(cfg.Data.CompressSnapshots)
	pool := concurrency.NewDatasetPool(reg, store, cfg)

	start := time.Now()
	ds, resolved, err := pool.Get(ctx, version)
	if err != nil {
		return err
	}
	entry, _ := reg.Get(resolved)
	dir := reg.Dir(entry)

	header, err := store.SaveSnapshot(dir, ds)
	if err != nil {
		return fmt.Errorf("version %s: %w", resolved, err)
	}
	info, err := os.Stat(store.SnapshotPath(dir))
	if err != nil {
		return err
	}
	log.Printf("Snapshot for %s: %d cells, %d connections, build %s, %s, took %s",
		resolved, ds.NumCells(), ds.NumConnections(), header.Build(),
		humanize.Bytes(uint64(info.Size())), time.Since(start).Round(time.Millisecond))
	return nil
}

// applyExplicitFlags applies only the CLI flags that were explicitly set
// by the user on the command line. Unset flags are ignored so they do not
// override values resolved from YAML or environment variables.
func applyExplicitFlags(flags *pflag.FlagSet, cfg *core.Config, o *core.CLIOverrides) {
	overrides := core.CLIOverrides{}

	if flags.Changed("http-addr") {
		overrides.HTTPAddr = o.HTTPAddr
	}
	if flags.Changed("data-root") {
		overrides.DataRoot = o.DataRoot
	}
	if flags.Changed("default-version") {
		overrides.DefaultVersion = o.DefaultVersion
	}
	if flags.Changed("compress") {
		overrides.CompressSnapshots = o.CompressSnapshots
	}
	if flags.Changed("prefer-snapshot") {
		overrides.PreferSnapshot = o.PreferSnapshot
	}
	if flags.Changed("preload") {
		overrides.PreloadDefault = o.PreloadDefault
	}
	if flags.Changed("evict-after") {
		overrides.EvictAfter = o.EvictAfter
	}
	if flags.Changed("search-cache-size") {
		overrides.SearchCacheSize = o.SearchCacheSize
	}
	if flags.Changed("min-syn-count") {
		overrides.MinSynapseCount = o.MinSynapseCount
	}
	if flags.Changed("motif-limit") {
		overrides.MotifDefaultLimit = o.MotifDefaultLimit
	}
	if flags.Changed("mcp") {
		overrides.MCPEnabled = o.MCPEnabled
	}
	if flags.Changed("mcp-path") {
		overrides.MCPPath = o.MCPPath
	}
	if flags.Changed("mcp-api-key") {
		overrides.MCPAPIKey = o.MCPAPIKey
	}
	if flags.Changed("max-request-body") {
		overrides.MaxRequestBody = o.MaxRequestBody
	}
	if flags.Changed("read-timeout") {
		overrides.ReadTimeout = o.ReadTimeout
	}
	if flags.Changed("write-timeout") {
		overrides.WriteTimeout = o.WriteTimeout
	}

	cfg.ApplyCLIOverrides(&overrides)
}
