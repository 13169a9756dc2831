package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/dshills/lspbridge/internal/lsp"
)

func newServersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List and edit the stored server configs",
	}
	cmd.AddCommand(
		newServersListCmd(c),
		newServersAddCmd(c),
		newServersRemoveCmd(c),
		newServersToggleCmd(c, "enable", true),
		newServersToggleCmd(c, "disable", false),
		newServersSetCmd(c),
		newServersGetCmd(c),
	)
	return cmd
}

func newServersListCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored servers",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			configs, err := store.Load()
			if err != nil {
				return err
			}
			if asJSON {
				if configs == nil {
					configs = []lsp.ServerConfig{}
				}
				data, err := json.Marshal(configs)
				if err != nil {
					return err
				}
				_, err = c.out.Write(pretty.Pretty(data))
				return err
			}
			if len(configs) == 0 {
				fmt.Fprintf(c.out, "no servers in %s\n", store.Path())
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tENABLED\tTRANSPORT\tFILES")
			for _, cfg := range configs {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", cfg.ID, cfg.Name, cfg.Enabled, transportLabel(cfg.Transport), filesLabel(cfg))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the configs as JSON")
	return cmd
}

func transportLabel(t lsp.TransportConfig) string {
	switch t.Type {
	case lsp.TransportWebSocket:
		if t.ContentLength {
			return t.URL + " (content-length)"
		}
		return t.URL
	case lsp.TransportWorker:
		return "worker " + t.WorkerPath
	default:
		return string(t.Type)
	}
}

func filesLabel(cfg lsp.ServerConfig) string {
	parts := lo.Map(cfg.FileExtensions, func(ext string, _ int) string { return "." + ext })
	parts = append(parts, cfg.FilePatterns...)
	return strings.Join(parts, ",")
}

func newServersAddCmd(c *cli) *cobra.Command {
	var (
		cfg           lsp.ServerConfig
		url           string
		worker        string
		contentLength bool
		rootURI       string
		disabled      bool
		replace       bool
	)
	cmd := &cobra.Command{
		Use:   "add ID",
		Short: "Add a server",
		Example: `  lspbridge servers add texlab --name TexLab --ext tex,bib --url ws://localhost:9000 --root-uri file:///project
  lspbridge servers add tinymist --ext typ --url ws://localhost:9001 --content-length`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg.ID = args[0]
			cfg.Enabled = !disabled
			cfg.Transport = lsp.TransportConfig{Type: lsp.TransportWebSocket, URL: url, ContentLength: contentLength}
			if worker != "" {
				cfg.Transport = lsp.TransportConfig{Type: lsp.TransportWorker, WorkerPath: worker}
			}
			if rootURI != "" {
				cfg.Client = &lsp.ClientConfig{RootURI: lsp.DocumentURI(rootURI)}
			}
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Transport.Validate(); err != nil {
				c.log.Warn("server %s will not connect: %v", cfg.ID, err)
			}

			store, err := c.store()
			if err != nil {
				return err
			}
			configs, err := store.Load()
			if err != nil {
				return err
			}
			if i := slices.IndexFunc(configs, func(s lsp.ServerConfig) bool { return s.ID == cfg.ID }); i >= 0 {
				if !replace {
					return fmt.Errorf("%w: server %s already exists (use --replace)", lsp.ErrInvalidConfig, cfg.ID)
				}
				configs[i] = cfg
			} else {
				configs = append(configs, cfg)
			}
			if err := store.Save(configs); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "saved %s to %s\n", cfg.ID, store.Path())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Name, "name", "", "display name")
	f.StringSliceVar(&cfg.FileExtensions, "ext", nil, "file extensions served (comma separated)")
	f.StringSliceVar(&cfg.FilePatterns, "pattern", nil, "glob patterns served, such as **/*.bib")
	f.StringToStringVar(&cfg.LanguageIDMap, "language-id", nil, "per-extension languageId overrides, ext=id")
	f.StringVar(&url, "url", "", "WebSocket URL")
	f.StringVar(&worker, "worker", "", "worker script path (stored only, never connected)")
	f.BoolVar(&contentLength, "content-length", false, "frame messages with Content-Length headers")
	f.StringVar(&rootURI, "root-uri", "", "rootUri sent on initialize; without it the server is never connected")
	f.BoolVar(&disabled, "disabled", false, "store the server disabled")
	f.BoolVar(&replace, "replace", false, "replace an existing server with the same id")
	return cmd
}

func newServersRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			configs, err := store.Load()
			if err != nil {
				return err
			}
			before := len(configs)
			kept := slices.DeleteFunc(configs, func(s lsp.ServerConfig) bool { return s.ID == args[0] })
			if len(kept) == before {
				return fmt.Errorf("%w: %s", lsp.ErrUnknownServer, args[0])
			}
			if err := store.Save(kept); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "removed %s\n", args[0])
			return nil
		},
	}
}

func newServersToggleCmd(c *cli, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			if err := store.SetField(args[0], "enabled", enabled); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%sd %s\n", verb, args[0])
			return nil
		},
	}
}

func newServersSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set ID FIELD VALUE",
		Short: "Set one field of a server",
		Long: `Set one field of a stored server. FIELD is a path inside the config, such as
transportConfig.url or clientConfig.rootUri. VALUE is parsed as JSON when it is
valid JSON and stored as a string otherwise.`,
		Example: `  lspbridge servers set texlab transportConfig.contentLength true
  lspbridge servers set texlab fileExtensions '["tex","sty"]'`,
		Args: cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			return store.SetField(args[0], args[1], parseValue(args[2]))
		},
	}
}

// parseValue decodes JSON literals and keeps anything else as a string.
func parseValue(s string) any {
	if !gjson.Valid(s) {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func newServersGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Query the stored servers with a gjson path",
		Example: `  lspbridge servers get '#.id'
  lspbridge servers get '#(id=="texlab").transportConfig.url'`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			res, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if !res.Exists() {
				return fmt.Errorf("no value at %s", args[0])
			}
			if res.Type == gjson.String {
				fmt.Fprintln(c.out, res.Str)
				return nil
			}
			_, err = c.out.Write(pretty.Pretty([]byte(res.Raw)))
			return err
		},
	}
}
