package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const replHelp = `
codexdb interactive shell - available commands:

  Cells:
    search <query>                    Free text or structured search
      search <query> --limit N --offset N --case-sensitive --word-match
    cell <root-id>                    Cell detail, labels and partners
    stats                             Dataset statistics

  Connectivity:
    connections <id> [id...]          Connections touching the cells
      connections <id...> --induced --min-syn N --nt GABA --region LH_L
      connections --query <query> --induced
    pathways <source> <target>        Shortest pathways
      pathways <source> <target> --min-syn N
    reach <id> [id...]                Reachable cells per hop
      reach <id...> --upstream --min-syn N
    distance <src,...> <tgt,...>      Hop distance matrix
      distance <src,...> <tgt,...> --upstream

  Motifs:
    motif key=value [key=value...]    Three-node motif search
      e.g. motif queryA=DNa02 queryB=DNa01 enabledAB=on minSynapseCountAB=10

  Versions:
    versions                          List dataset versions
    \version                          Show active version
    \version <id>                     Switch active version

  Shell:
    ping                              Check health
    \help                             Show this help
    \status                           Show connection info
    \quit  (or exit, quit, Ctrl-D)    Exit
`

// runREPL starts the interactive shell on in.
func runREPL(c *cli, in io.Reader) {
	if _, _, err := c.roundTrip("GET", "/health", nil); err != nil {
		fmt.Fprintf(c.errOut, "error: cannot reach %s: %v\n", c.target(), err)
		return
	}

	fmt.Fprintf(c.out, "Connected to codexdb (%s)\nType \\help for commands, \\quit to exit.\n\n", c.target())

	scanner := bufio.NewScanner(in)
	for {
		prompt := "codexdb"
		if c.version != "" {
			prompt = fmt.Sprintf("codexdb[%s]", c.version)
		}
		fmt.Fprintf(c.out, "%s> ", prompt)

		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if done := dispatchREPL(c, line); done {
			fmt.Fprintln(c.out, "Bye.")
			break
		}
	}
}

// dispatchREPL parses and executes one REPL line.
// Returns true when the user wants to quit.
func dispatchREPL(c *cli, line string) bool {
	parts := tokenize(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case `\quit`, `\q`, "exit", "quit":
		return true

	case `\help`, `\h`, "help":
		fmt.Fprint(c.out, replHelp)

	case `\version`:
		if len(args) == 0 {
			if c.version == "" {
				fmt.Fprintln(c.out, "active version: (default)")
			} else {
				fmt.Fprintf(c.out, "active version: %s\n", c.version)
			}
		} else {
			c.version = args[0]
			fmt.Fprintf(c.out, "switched to version: %s\n", c.version)
		}

	case `\status`:
		fmt.Fprintf(c.out, "target:  %s\n", c.target())
		v := c.version
		if v == "" {
			v = "(default)"
		}
		fmt.Fprintf(c.out, "version: %s\n", v)

	case "ping":
		c.getJSON("/health", nil) //nolint:errcheck

	case "versions":
		c.getJSON("/v1/versions", nil) //nolint:errcheck

	case "stats":
		c.getJSON("/v1/stats", nil) //nolint:errcheck

	case "search":
		replSearch(c, args)

	case "cell":
		if len(args) < 1 {
			fmt.Fprintln(c.errOut, "usage: cell <root-id>")
		} else {
			c.getJSON("/v1/cells/"+url.PathEscape(args[0]), nil) //nolint:errcheck
		}

	case "connections":
		replConnections(c, args)

	case "pathways":
		if len(args) < 2 {
			fmt.Fprintln(c.errOut, "usage: pathways <source> <target> [--min-syn N]")
		} else {
			q := url.Values{"source": {args[0]}, "target": {args[1]}}
			applyOptions(q, args[2:], map[string]string{"--min-syn": "min_syn_count"}, nil)
			c.getJSON("/v1/pathways", q) //nolint:errcheck
		}

	case "reach":
		ids, rest := splitPositional(args)
		q := url.Values{}
		if len(ids) > 0 {
			q.Set("ids", strings.Join(ids, ","))
		}
		applyOptions(q, rest,
			map[string]string{"--min-syn": "min_syn_count", "--query": "q"},
			map[string][2]string{"--upstream": {"direction", "upstream"}})
		c.getJSON("/v1/reachable", q) //nolint:errcheck

	case "distance":
		pos, rest := splitPositional(args)
		if len(pos) < 2 {
			fmt.Fprintln(c.errOut, "usage: distance <src,...> <tgt,...> [--upstream] [--min-syn N]")
			break
		}
		q := url.Values{"sources": {pos[0]}, "targets": {pos[1]}}
		applyOptions(q, rest,
			map[string]string{"--min-syn": "min_syn_count"},
			map[string][2]string{"--upstream": {"direction", "upstream"}})
		c.getJSON("/v1/distance-matrix", q) //nolint:errcheck

	case "motif":
		replMotif(c, args)

	default:
		fmt.Fprintf(c.errOut, "unknown command %q, type \\help for available commands\n", cmd)
	}

	return false
}

// ── REPL command helpers ─────────────────────────────────────

func replSearch(c *cli, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.errOut, "usage: search <query> [--limit N] [--offset N] [--case-sensitive] [--word-match]")
		return
	}
	q := url.Values{"q": {args[0]}}
	applyOptions(q, args[1:],
		map[string]string{"--limit": "limit", "--offset": "offset"},
		map[string][2]string{
			"--case-sensitive": {"case_sensitive", "true"},
			"--word-match":     {"word_match", "true"},
		})
	c.getJSON("/v1/search", q) //nolint:errcheck
}

func replConnections(c *cli, args []string) {
	ids, rest := splitPositional(args)
	q := url.Values{}
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}
	applyOptions(q, rest,
		map[string]string{
			"--min-syn": "min_syn_count",
			"--nt":      "nt_type",
			"--region":  "region",
			"--limit":   "limit",
			"--query":   "q",
		},
		map[string][2]string{"--induced": {"induced", "true"}})
	if q.Get("ids") == "" && q.Get("q") == "" {
		fmt.Fprintln(c.errOut, "usage: connections <id...> | --query <query> [--induced] [--min-syn N] [--nt T] [--region R]")
		return
	}
	c.getJSON("/v1/connections", q) //nolint:errcheck
}

func replMotif(c *cli, args []string) {
	q := url.Values{}
	for _, kv := range args {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			fmt.Fprintf(c.errOut, "motif fields are key=value, got %q\n", kv)
			return
		}
		q.Set(strings.TrimSpace(kv[:eq]), strings.TrimSpace(kv[eq+1:]))
	}
	if len(q) == 0 {
		fmt.Fprintln(c.errOut, "usage: motif queryA=<query> [queryB=...] [enabledAB=on] [minSynapseCountAB=N] ...")
		return
	}
	c.getJSON("/v1/motifs", q) //nolint:errcheck
}

// splitPositional separates leading positional arguments from options.
func splitPositional(args []string) (pos, rest []string) {
	for i, a := range args {
		if strings.HasPrefix(a, "--") {
			return pos, args[i:]
		}
		pos = append(pos, a)
	}
	return pos, nil
}

// applyOptions maps "--flag value" pairs and bare switches onto q. Repeated
// --nt and --region values accumulate.
func applyOptions(q url.Values, args []string, valued map[string]string, switches map[string][2]string) {
	for i := 0; i < len(args); i++ {
		if sw, ok := switches[args[i]]; ok {
			q.Set(sw[0], sw[1])
			continue
		}
		param, ok := valued[args[i]]
		if !ok || i+1 >= len(args) {
			continue
		}
		i++
		if q.Has(param) && (param == "nt_type" || param == "region") {
			q.Set(param, q.Get(param)+","+args[i])
		} else {
			q.Set(param, args[i])
		}
	}
}

// tokenize splits a line into tokens respecting quoted strings.
func tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case inQuote:
			if ch == quoteChar {
				inQuote = false
			} else {
				cur.WriteRune(ch)
			}
		case ch == '"' || ch == '\'':
			inQuote = true
			quoteChar = ch
		case ch == ' ' || ch == '\t':
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(ch)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
