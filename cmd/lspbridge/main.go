// Package main is the entry point for the lspbridge command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/lspbridge/internal/logging"
	"github.com/dshills/lspbridge/internal/lsp"
	"github.com/dshills/lspbridge/internal/settings"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// cli carries the state shared by every subcommand.
type cli struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	log    *logging.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, errOut: errOut, log: logging.Nop()}

	root := &cobra.Command{
		Use:   "lspbridge",
		Short: "Manage and probe language servers reachable over WebSocket",
		Long: `lspbridge keeps a list of language server configs, connects to them over
WebSocket and exercises document sync, diagnostics and hover the way an editor would.

Every flag can also be set from the environment as LSPBRIDGE_<FLAG>, for example
LSPBRIDGE_CONFIG=./servers.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cfg := logging.DefaultLoggerConfig()
			cfg.Level = logging.ParseLogLevel(c.v.GetString("log-level"))
			cfg.JSON = c.v.GetBool("log-json")
			cfg.Output = c.errOut
			c.log = logging.NewLogger(cfg)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringP("config", "c", defaultConfigPath(), "settings file (.json, .jsonc, .yaml, .toml)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "write logs as JSON")
	flags.Duration("connect-timeout", 10*time.Second, "how long a server may take to connect and initialize")
	flags.Duration("shutdown-timeout", time.Second, "how long to wait for a server to acknowledge shutdown")
	_ = c.v.BindPFlags(flags)
	c.v.SetEnvPrefix("LSPBRIDGE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		newVersionCmd(c),
		newServersCmd(c),
		newProbeCmd(c),
		newWatchCmd(c),
	)
	return root
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(c.out, "lspbridge %s\n", version)
			fmt.Fprintf(c.out, "Commit: %s\n", commit)
			fmt.Fprintf(c.out, "Built: %s\n", date)
		},
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "lspbridge.json"
	}
	return filepath.Join(dir, "lspbridge", "servers.json")
}

func (c *cli) store() (*settings.FileStore, error) {
	return settings.NewFileStore(c.v.GetString("config"), settings.WithStoreLogger(c.log))
}

// newRegistry builds a registry holding every stored config. onStatus, when
// set, is subscribed before any server starts connecting.
func (c *cli) newRegistry(configs []lsp.ServerConfig, onStatus func(string, lsp.ConnectionStatus)) (*lsp.Registry, error) {
	connectTimeout := c.v.GetDuration("connect-timeout")
	dialer := lsp.WebSocketDialer(
		lsp.WithClientLogger(c.log.WithComponent("client")),
		lsp.WithClientInfo("lspbridge", version),
		lsp.WithShutdownTimeout(c.v.GetDuration("shutdown-timeout")),
		lsp.WithTransportOptions(
			lsp.WithWebSocketDialer(&websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: connectTimeout,
			}),
			lsp.WithHandshakeHeader(http.Header{"User-Agent": {"lspbridge/" + version}}),
		),
	)
	reg := lsp.NewRegistry(lsp.WithLogger(c.log), lsp.WithDialer(dialer), lsp.WithConnectTimeout(connectTimeout))
	if onStatus != nil {
		reg.OnStatusChange(onStatus)
	}
	if _, err := settings.Sync(reg, configs); err != nil {
		var se *lsp.ServerError
		if !errors.As(err, &se) {
			_ = reg.Close()
			return nil, err
		}
		c.log.Warn("some servers were not registered: %v", err)
	}
	return reg, nil
}
