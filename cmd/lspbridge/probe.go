package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lspbridge/internal/editor"
	"github.com/dshills/lspbridge/internal/lsp"
)

func newProbeCmd(c *cli) *cobra.Command {
	var (
		line int
		col  int
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Open a file on every matching server and print what they report",
		Long: `Connect to every enabled server matching FILE, open it, print the diagnostics
published within --wait and, when --line is given, the aggregated hover at
--line/--col (both 1-based).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			store, err := c.store()
			if err != nil {
				return err
			}
			configs, err := store.Load()
			if err != nil {
				return err
			}
			reg, err := c.newRegistry(configs, func(id string, st lsp.ConnectionStatus) {
				fmt.Fprintf(c.errOut, "%s: %s\n", id, st)
			})
			if err != nil {
				return err
			}
			defer reg.Close()

			p := &prober{c: c, reg: reg, fileName: probeName(args[0])}
			return p.run(cmd.Context(), string(data), probeOptions{
				line: line, col: col, connect: c.v.GetDuration("connect-timeout"), wait: wait,
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&line, "line", 0, "1-based line for a hover request")
	f.IntVar(&col, "col", 1, "1-based column (UTF-16) for a hover request")
	f.DurationVar(&wait, "wait", 2*time.Second, "how long to collect diagnostics")
	return cmd
}

type probeOptions struct {
	line    int
	col     int
	connect time.Duration
	wait    time.Duration
}

// probeName turns a path into the document name servers see.
func probeName(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "./")
}

type prober struct {
	c        *cli
	reg      *lsp.Registry
	fileName string
}

func (p *prober) run(ctx context.Context, text string, opts probeOptions) error {
	servers := p.awaitServers(ctx, opts.connect)
	if len(servers) == 0 {
		return fmt.Errorf("%w: no connected server matches %s", lsp.ErrNotConnected, p.fileName)
	}
	fmt.Fprintf(p.c.out, "servers: %s\n", strings.Join(servers, ", "))

	doc := &memDocument{name: p.fileName, text: text}
	lint := &printSink{out: p.c.out}
	tip := &printTooltip{out: p.c.out}
	session := editor.Open(ctx, p.reg, editor.NewVersionTable(), doc, lint, tip, editor.WithLogger(p.c.log))
	defer session.Close(context.Background())

	select {
	case <-time.After(opts.wait):
	case <-ctx.Done():
		return ctx.Err()
	}
	lint.print()

	if opts.line <= 0 {
		return nil
	}
	offset := lsp.NewPositionConverter(text).PositionToByteOffset(lsp.Position{Line: opts.line - 1, Character: max(opts.col-1, 0)})
	sections, err := session.Hover.Hover(ctx, offset)
	if err != nil {
		return err
	}
	if len(sections) == 0 {
		fmt.Fprintln(p.c.out, "hover: nothing")
	}
	return nil
}

// awaitServers waits until no matching server is still connecting and
// returns the ids of those that connected.
func (p *prober) awaitServers(ctx context.Context, timeout time.Duration) []string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for p.connecting() {
		select {
		case <-ctx.Done():
			p.c.log.Warn("gave up waiting for servers: %v", ctx.Err())
			return p.connected()
		case <-ticker.C:
		}
	}
	return p.connected()
}

func (p *prober) connecting() bool {
	for _, cfg := range p.reg.Configs() {
		if cfg.Matches(p.fileName) && p.reg.ConnectionStatus(cfg.ID) == lsp.StatusConnecting {
			return true
		}
	}
	return false
}

func (p *prober) connected() []string {
	var ids []string
	for _, sc := range p.reg.AllClientsForFile(p.fileName) {
		ids = append(ids, sc.ID)
	}
	return ids
}

// memDocument is a read-mostly document backed by a string.
type memDocument struct {
	mu   sync.Mutex
	name string
	text string
}

func (d *memDocument) FileName() string { return d.name }

func (d *memDocument) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *memDocument) ApplyEdits(edits []editor.Replacement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	text := d.text
	for _, e := range edits {
		if e.From < 0 || e.To > len(text) || e.From > e.To {
			return errors.New("edit out of range")
		}
		text = text[:e.From] + e.Text + text[e.To:]
	}
	d.text = text
	return nil
}

// printSink keeps the latest diagnostics for printing.
type printSink struct {
	mu    sync.Mutex
	out   io.Writer
	diags []editor.Diagnostic
}

func (s *printSink) SetDiagnostics(_ string, diags []editor.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags = diags
}

func (s *printSink) Relint(string) {}

func (s *printSink) print() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.diags) == 0 {
		fmt.Fprintln(s.out, "diagnostics: none")
		return
	}
	fmt.Fprintf(s.out, "diagnostics: %d\n", len(s.diags))
	for _, d := range s.diags {
		fmt.Fprintf(s.out, "  %s [%d,%d) %s: %s\n", d.Severity, d.From, d.To, d.Source, d.Message)
	}
}

// printTooltip writes hovers to out.
type printTooltip struct {
	out io.Writer
}

func (t *printTooltip) ShowHover(offset int, sections []string) {
	fmt.Fprintf(t.out, "hover at %d:\n", offset)
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(t.out, "  ---")
		}
		for _, l := range strings.Split(s, "\n") {
			fmt.Fprintf(t.out, "  %s\n", l)
		}
	}
}

func (t *printTooltip) ShowActions(offset int, actions []editor.Action) {
	fmt.Fprintf(t.out, "actions at %d:\n", offset)
	for _, a := range actions {
		fmt.Fprintf(t.out, "  %s (%s)\n", a.Title, a.ServerID)
	}
}

func (t *printTooltip) Hide() {}
