package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/lspbridge/internal/debounce"
	"github.com/dshills/lspbridge/internal/logging"
	"github.com/dshills/lspbridge/internal/lsp"
)

// Action is a code action offered by one server. Either Edit, Command or
// both may be set.
type Action struct {
	Title    string
	Kind     lsp.CodeActionKind
	Edit     *lsp.WorkspaceEdit
	Command  *lsp.Command
	ServerID string
}

// ActionState is the state of the code-action tooltip.
type ActionState int

const (
	ActionsIdle ActionState = iota
	ActionsPending
	ActionsShowing
)

func (s ActionState) String() string {
	switch s {
	case ActionsIdle:
		return "idle"
	case ActionsPending:
		return "pending"
	case ActionsShowing:
		return "showing"
	default:
		return "unknown"
	}
}

// DiagnosticsAt returns the LSP diagnostics covering an offset.
// *DiagnosticsSink satisfies it.
type DiagnosticsAt interface {
	At(offset int) []lsp.Diagnostic
}

// CodeActions drives the quick-fix tooltip of one document.
//
// A selection change moves it to pending and starts the debounce; when the
// quiet period ends it fetches quickfix actions for the diagnostics at the
// cursor and moves to showing, or back to idle when there is nothing to offer.
// A document change cancels everything and hides the tooltip.
//
// Tooltip methods are called with the state lock held and must not call back
// into CodeActions synchronously.
type CodeActions struct {
	mu      sync.Mutex
	src     Source
	doc     Document
	diags   DiagnosticsAt
	tooltip Tooltip
	timer   *debounce.Debouncer

	state   ActionState
	offset  int
	actions []Action
	gen     uint64
	cancel  context.CancelFunc
	base    context.Context
	stop    context.CancelFunc

	log     *logging.Logger
	timeout time.Duration
}

// NewCodeActions creates the controller for doc.
func NewCodeActions(src Source, doc Document, diags DiagnosticsAt, tooltip Tooltip, opts ...Option) *CodeActions {
	o := buildOptions(opts)
	base, stop := context.WithCancel(context.Background())
	c := &CodeActions{
		src:     src,
		doc:     doc,
		diags:   diags,
		tooltip: tooltip,
		base:    base,
		stop:    stop,
		log:     o.log.WithComponent("codeactions").WithField("file", doc.FileName()),
		timeout: o.requestTimeout,
	}
	c.timer = debounce.New(o.debounce, c.fetch)
	return c
}

// State returns the tooltip state.
func (c *CodeActions) State() ActionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Actions returns the actions currently shown.
func (c *CodeActions) Actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.actions...)
}

// SelectionChanged schedules a fetch for the new cursor offset.
func (c *CodeActions) SelectionChanged(offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.state = ActionsPending
	c.offset = offset
	c.timer.Trigger()
}

// DocumentChanged cancels a pending fetch and hides the tooltip, since the
// edit invalidates the offsets it was built for.
func (c *CodeActions) DocumentChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Close cancels all work.
func (c *CodeActions) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.stop()
}

func (c *CodeActions) resetLocked() {
	c.timer.Cancel()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == ActionsShowing {
		c.tooltip.Hide()
	}
	c.state = ActionsIdle
	c.actions = nil
}

func (c *CodeActions) fetch() {
	c.mu.Lock()
	if c.state != ActionsPending {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	offset := c.offset
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	actions := c.collect(ctx, offset)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != ActionsPending {
		return
	}
	c.cancel = nil
	if len(actions) == 0 {
		c.state = ActionsIdle
		return
	}
	c.state = ActionsShowing
	c.actions = actions
	c.tooltip.ShowActions(offset, actions)
}

// Fetch returns the deduplicated quickfix actions at offset without touching
// the tooltip.
func (c *CodeActions) Fetch(ctx context.Context, offset int) []Action {
	return c.collect(ctx, offset)
}

func (c *CodeActions) collect(ctx context.Context, offset int) []Action {
	diags := c.diags.At(offset)
	if len(diags) == 0 {
		return nil
	}

	fileName := c.doc.FileName()
	pc := lsp.NewPositionConverter(c.doc.Text())
	pos := pc.ByteOffsetToPosition(offset)
	params := lsp.CodeActionParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: lsp.DocumentURIFor(fileName)},
		Range:        lsp.Range{Start: pos, End: pos},
		Context: lsp.CodeActionContext{
			Diagnostics: diags,
			Only:        []lsp.CodeActionKind{lsp.CodeActionKindQuickFix},
		},
	}

	servers := lo.Filter(c.src.AllClientsForFile(fileName), func(sc lsp.ServerClient, _ int) bool {
		return sc.Client.Capabilities().SupportsCodeActions()
	})
	results := make([][]Action, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range servers {
		i, sc := i, sc
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			var raw json.RawMessage
			if err := sc.Client.Request(rctx, lsp.MethodCodeAction, params, &raw); err != nil {
				logRequestError(c.log, lsp.MethodCodeAction, sc.ID, err)
				return nil
			}
			for _, ca := range lsp.ParseCodeActionResult(raw) {
				results[i] = append(results[i], Action{
					Title:    ca.Title,
					Kind:     ca.Kind,
					Edit:     ca.Edit,
					Command:  ca.Command,
					ServerID: sc.ID,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	return DedupeActions(lo.Flatten(results))
}

// DedupeActions drops actions whose title was already seen; the first wins.
func DedupeActions(actions []Action) []Action {
	return lo.UniqBy(actions, func(a Action) string { return a.Title })
}

// Apply applies the action's edits for this document as one batch, then runs
// its command on the server that offered it and applies any edit the command
// returns. The tooltip is hidden first.
func (c *CodeActions) Apply(ctx context.Context, a Action) error {
	c.DocumentChanged()

	uri := lsp.DocumentURIFor(c.doc.FileName())
	if err := ApplyWorkspaceEdit(c.doc, uri, a.Edit); err != nil {
		return err
	}
	if a.Command == nil {
		return nil
	}

	sc, ok := lo.Find(c.src.AllClientsForFile(c.doc.FileName()), func(sc lsp.ServerClient) bool {
		return sc.ID == a.ServerID
	})
	if !ok {
		return &lsp.ServerError{ServerID: a.ServerID, Err: lsp.ErrNotConnected}
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var result json.RawMessage
	err := sc.Client.Request(rctx, lsp.MethodExecuteCommand, lsp.ExecuteCommandParams{
		Command:   a.Command.Command,
		Arguments: a.Command.Arguments,
	}, &result)
	if err != nil {
		return &lsp.ServerError{ServerID: sc.ID, Err: fmt.Errorf("execute %s: %w", a.Command.Command, err)}
	}

	r := gjson.ParseBytes(result)
	if !r.Get("changes").Exists() && !r.Get("documentChanges").Exists() {
		return nil
	}
	var edit lsp.WorkspaceEdit
	if err := json.Unmarshal(result, &edit); err != nil {
		return fmt.Errorf("%w: command result: %v", lsp.ErrInvalidResponse, err)
	}
	return ApplyWorkspaceEdit(c.doc, uri, &edit)
}

// ApplyWorkspaceEdit applies the edits of edit that target uri to doc as a
// single batch sorted by descending offset, so earlier replacements do not
// shift later ones.
func ApplyWorkspaceEdit(doc Document, uri lsp.DocumentURI, edit *lsp.WorkspaceEdit) error {
	edits := edit.EditsFor(uri)
	if len(edits) == 0 {
		return nil
	}

	pc := lsp.NewPositionConverter(doc.Text())
	repl := make([]Replacement, len(edits))
	for i, e := range edits {
		from, to := pc.RangeToByteOffsets(e.Range)
		repl[i] = Replacement{From: from, To: to, Text: e.NewText}
	}
	sort.SliceStable(repl, func(i, j int) bool {
		if repl[i].From != repl[j].From {
			return repl[i].From > repl[j].From
		}
		return repl[i].To > repl[j].To
	})
	return doc.ApplyEdits(repl)
}
