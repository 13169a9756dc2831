package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lspbridge/internal/lsp"
	"github.com/dshills/lspbridge/internal/settings"
)

func newWatchCmd(c *cli) *cobra.Command {
	var debounceFor time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep every stored server connected and follow the settings file",
		Long: `Connect to every enabled server, print each status transition, and apply
edits to the settings file as they are saved. Servers whose config did not change
keep their connection. Stops on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			configs, err := store.Load()
			if err != nil {
				return err
			}

			reg, err := c.newRegistry(nil, func(id string, st lsp.ConnectionStatus) {
				fmt.Fprintf(c.out, "%s %-12s %s\n", time.Now().Format(time.TimeOnly), st, id)
			})
			if err != nil {
				return err
			}
			defer reg.Close()

			c.apply(reg, configs)
			fmt.Fprintf(c.out, "watching %s\n", store.Path())

			return store.Watch(cmd.Context(), debounceFor, func(configs []lsp.ServerConfig, err error) {
				if err != nil {
					fmt.Fprintf(c.errOut, "settings not applied: %v\n", err)
					return
				}
				c.apply(reg, configs)
			})
		},
	}
	cmd.Flags().DurationVar(&debounceFor, "debounce", settings.DefaultWatchDebounce, "quiet period before a changed file is reloaded")
	return cmd
}

func (c *cli) apply(reg *lsp.Registry, configs []lsp.ServerConfig) {
	res, err := settings.Sync(reg, configs)
	if err != nil {
		fmt.Fprintf(c.errOut, "sync: %v\n", err)
	}
	if !res.Changed() {
		return
	}
	fmt.Fprintf(c.out, "settings: %s\n", summarize(res))
}

func summarize(res settings.SyncResult) string {
	var parts []string
	add := func(label string, ids []string) {
		if len(ids) > 0 {
			parts = append(parts, label+" "+strings.Join(ids, ","))
		}
	}
	add("added", res.Added)
	add("removed", res.Removed)
	add("updated", res.Updated)
	add("replaced", res.Replaced)
	return strings.Join(parts, "; ")
}
