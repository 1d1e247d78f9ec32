package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurocodex/codexdb/pkg/api"
	"github.com/neurocodex/codexdb/pkg/concurrency"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/persistence"
	"github.com/neurocodex/codexdb/pkg/registry"
)

// cli holds the shared state for all subcommands. Requests go to a running
// server when remote is set, otherwise to an in-process API over the data
// root.
type cli struct {
	remote     string
	httpClient *http.Client
	handler    http.Handler
	version    string
	out        io.Writer
	errOut     io.Writer
}

func main() {
	var connectStr, configPath, dataRoot string
	var interactive, verbose bool

	c := &cli{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		out:        os.Stdout,
		errOut:     os.Stderr,
	}

	rootCmd := &cobra.Command{
		Use:   "codexdb-cli",
		Short: "codexdb CLI - query connectome datasets from the shell",
		Long:  "Runs codexdb queries against a data root in-process, or against a running server with --connect.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				log.SetOutput(io.Discard)
			}
			if connectStr == "" {
				connectStr = os.Getenv("CODEXDB_URL")
			}
			if connectStr != "" {
				u, err := url.Parse(connectStr)
				if err != nil || u.Host == "" {
					return fmt.Errorf("invalid server url %q", connectStr)
				}
				c.remote = strings.TrimRight(u.String(), "/")
				return nil
			}
			h, err := localHandler(configPath, dataRoot)
			if err != nil {
				return err
			}
			c.handler = h
			return nil
		},
		// When called with no subcommand, drop into interactive shell.
		RunE: func(cmd *cobra.Command, args []string) error {
			runREPL(c, os.Stdin)
			return nil
		},
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&connectStr, "connect", "", "Server URL (e.g. http://localhost:7070); empty runs in-process")
	pf.StringVarP(&configPath, "config", "f", "", "Path to YAML config file for in-process mode (overrides CODEXDB_CONFIG env)")
	pf.StringVar(&dataRoot, "data-root", "", "Data root for in-process mode")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Show server-side log output")
	pf.StringVar(&c.version, "dataset-version", "", "Dataset version (default: the registry default)")
	rootCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start interactive shell (default when no subcommand given)")

	// ── Health ──────────────────────────────────────────────
	rootCmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.getJSON("/health", nil)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "versions",
		Short: "List dataset versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.getJSON("/v1/versions", nil)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show dataset statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.getJSON("/v1/stats", nil)
		},
	})

	// ── Search ──────────────────────────────────────────────
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search cells by free text or structured query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"q": {args[0]}}
			setInt(q, cmd, "limit")
			setInt(q, cmd, "offset")
			setBool(q, cmd, "case-sensitive", "case_sensitive")
			setBool(q, cmd, "word-match", "word_match")
			return c.getJSON("/v1/search", q)
		},
	}
	searchCmd.Flags().Int("limit", 0, "Max results")
	searchCmd.Flags().Int("offset", 0, "Skip this many results")
	searchCmd.Flags().Bool("case-sensitive", false, "Match case")
	searchCmd.Flags().Bool("word-match", false, "Match whole words only")
	rootCmd.AddCommand(searchCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "cell [root-id]",
		Short: "Show one cell with labels, partners and similar cells",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.getJSON("/v1/cells/"+url.PathEscape(args[0]), nil)
		},
	})

	// ── Connectivity ────────────────────────────────────────
	connCmd := &cobra.Command{
		Use:   "connections [root-id...]",
		Short: "List connections touching (or, with --induced, between) cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if len(args) > 0 {
				q.Set("ids", strings.Join(args, ","))
			}
			setString(q, cmd, "query", "q")
			setBool(q, cmd, "induced", "induced")
			setInt(q, cmd, "min-syn", "min_syn_count")
			setList(q, cmd, "nt", "nt_type")
			setList(q, cmd, "region", "region")
			setInt(q, cmd, "limit")
			return c.getJSON("/v1/connections", q)
		},
	}
	connCmd.Flags().String("query", "", "Select cells by search query instead of ids")
	connCmd.Flags().Bool("induced", false, "Only connections among the selected cells")
	connCmd.Flags().Int("min-syn", 0, "Minimum synapse count")
	connCmd.Flags().StringSlice("nt", nil, "Neurotransmitter types")
	connCmd.Flags().StringSlice("region", nil, "Neuropils")
	connCmd.Flags().Int("limit", 0, "Max rows")
	rootCmd.AddCommand(connCmd)

	pathCmd := &cobra.Command{
		Use:   "pathways [source] [target]",
		Short: "Shortest pathways between two cells",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"source": {args[0]}, "target": {args[1]}}
			setInt(q, cmd, "min-syn", "min_syn_count")
			return c.getJSON("/v1/pathways", q)
		},
	}
	pathCmd.Flags().Int("min-syn", 0, "Minimum synapse count (default: dataset threshold)")
	rootCmd.AddCommand(pathCmd)

	reachCmd := &cobra.Command{
		Use:   "reach [root-id...]",
		Short: "Count cells reachable per hop",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if len(args) > 0 {
				q.Set("ids", strings.Join(args, ","))
			}
			setString(q, cmd, "query", "q")
			setDirection(q, cmd)
			setInt(q, cmd, "min-syn", "min_syn_count")
			return c.getJSON("/v1/reachable", q)
		},
	}
	reachCmd.Flags().String("query", "", "Select sources by search query instead of ids")
	reachCmd.Flags().Bool("upstream", false, "Walk inputs instead of outputs")
	reachCmd.Flags().Int("min-syn", 0, "Minimum synapse count (default: dataset threshold)")
	rootCmd.AddCommand(reachCmd)

	distCmd := &cobra.Command{
		Use:   "distance",
		Short: "Hop distance matrix between source and target cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setList(q, cmd, "sources", "sources")
			setList(q, cmd, "targets", "targets")
			setDirection(q, cmd)
			setInt(q, cmd, "min-syn", "min_syn_count")
			return c.getJSON("/v1/distance-matrix", q)
		},
	}
	distCmd.Flags().StringSlice("sources", nil, "Source root ids")
	distCmd.Flags().StringSlice("targets", nil, "Target root ids")
	distCmd.Flags().Bool("upstream", false, "Measure along inputs")
	distCmd.Flags().Int("min-syn", 0, "Minimum synapse count (default: dataset threshold)")
	rootCmd.AddCommand(distCmd)

	motifCmd := &cobra.Command{
		Use:   "motif",
		Short: "Search a three-node motif",
		Example: `  codexdb-cli motif --form queryA=DNa02,queryB="super_class == descending",enabledAB=on
  codexdb-cli motif --sketch sketch.json --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if path, _ := cmd.Flags().GetString("sketch"); path != "" {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				body := map[string]any{"sketch": json.RawMessage(raw), "limit": limit}
				return c.postJSON("/v1/motifs", body)
			}
			form, _ := cmd.Flags().GetStringToString("form")
			q := url.Values{}
			for k, v := range form {
				q.Set(k, v)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return c.getJSON("/v1/motifs", q)
		},
	}
	motifCmd.Flags().StringToString("form", nil, "Motif form fields (queryA, queryB, queryC, enabledAB, minSynapseCountAB, ntTypeAB, regionAB, ...)")
	motifCmd.Flags().String("sketch", "", "Path to a JSON motif sketch")
	motifCmd.Flags().Int("limit", 0, "Max matches")
	rootCmd.AddCommand(motifCmd)

	// ── Shell ───────────────────────────────────────────────
	rootCmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			runREPL(c, os.Stdin)
			return nil
		},
	})

	// --interactive flag explicitly requested
	rootCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if interactive {
			runREPL(c, os.Stdin)
			os.Exit(0)
		}
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// localHandler loads the config and serves the API in-process.
func localHandler(configPath, dataRoot string) (http.Handler, error) {
	if configPath == "" {
		configPath = os.Getenv("CODEXDB_CONFIG")
	}
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dataRoot != "" {
		cfg.ApplyCLIOverrides(&core.CLIOverrides{DataRoot: &dataRoot})
	}
	cfg.MCP.Enabled = false

	reg, err := registry.NewStore(cfg.Data.RootPath, cfg.Data.VersionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}
	pool := concurrency.NewDatasetPool(reg, persistence.NewStore(cfg.Data.CompressSnapshots), cfg)
	return api.NewServer("", pool, cfg).Handler(), nil
}

// ── Flag helpers ────────────────────────────────────────────

// setInt copies an explicitly set int flag into q, under param when given.
func setInt(q url.Values, cmd *cobra.Command, flag string, param ...string) {
	if !cmd.Flags().Changed(flag) {
		return
	}
	v, _ := cmd.Flags().GetInt(flag)
	q.Set(paramName(flag, param), strconv.Itoa(v))
}

func setBool(q url.Values, cmd *cobra.Command, flag, param string) {
	if v, _ := cmd.Flags().GetBool(flag); v {
		q.Set(param, "true")
	}
}

func setString(q url.Values, cmd *cobra.Command, flag, param string) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		q.Set(param, v)
	}
}

func setList(q url.Values, cmd *cobra.Command, flag, param string) {
	if v, _ := cmd.Flags().GetStringSlice(flag); len(v) > 0 {
		q.Set(param, strings.Join(v, ","))
	}
}

func setDirection(q url.Values, cmd *cobra.Command) {
	if up, _ := cmd.Flags().GetBool("upstream"); up {
		q.Set("direction", "upstream")
	}
}

func paramName(flag string, param []string) string {
	if len(param) > 0 {
		return param[0]
	}
	return flag
}

// ── HTTP helpers ────────────────────────────────────────────

func (c *cli) doRequest(method, path string, query url.Values, body []byte) error {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	status, data, err := c.roundTrip(method, target, body)
	if err != nil {
		return err
	}
	if status >= 400 {
		fmt.Fprintf(c.errOut, "Error %d: %s\n", status, strings.TrimSpace(string(data)))
		return fmt.Errorf("request failed with status %d", status)
	}

	// Pretty-print JSON
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err == nil {
		fmt.Fprintln(c.out, strings.TrimSpace(pretty.String()))
	} else {
		fmt.Fprintln(c.out, string(data))
	}
	return nil
}

func (c *cli) roundTrip(method, target string, body []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	if c.remote == "" {
		req := httptest.NewRequest(method, target, bodyReader)
		c.setHeaders(req)
		rec := httptest.NewRecorder()
		c.handler.ServeHTTP(rec, req)
		return rec.Code, rec.Body.Bytes(), nil
	}

	req, err := http.NewRequest(method, c.remote+target, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (c *cli) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.version != "" {
		req.Header.Set(api.VersionHeader, c.version)
	}
}

func (c *cli) getJSON(path string, query url.Values) error {
	return c.doRequest(http.MethodGet, path, query, nil)
}

func (c *cli) postJSON(path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.doRequest(http.MethodPost, path, nil, body)
}

// target describes where requests go, for the shell's \status.
func (c *cli) target() string {
	if c.remote != "" {
		return c.remote
	}
	return "in-process"
}
