// Package editor binds open editor documents to the language servers held by
// the connection registry.
//
// The editor itself is reached only through the small interfaces below: a
// Document for text and edits, a LintSink for diagnostics and a Tooltip for
// hover and code-action popups. Every component degrades to "feature not
// available" when a server fails; nothing here returns a server error to the
// editor except Apply.
package editor

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/lspbridge/internal/logging"
	"github.com/dshills/lspbridge/internal/lsp"
)

// ErrStale is returned by a request that was superseded by a newer one.
var ErrStale = errors.New("editor: superseded by a newer request")

// Source is the part of the connection registry the editor layer uses.
// *lsp.Registry satisfies it.
type Source interface {
	AllClientsForFile(fileName string) []lsp.ServerClient
	OnDiagnostics(fn func(serverID string, params lsp.PublishDiagnosticsParams)) func()
}

// Document is the editor view of one open file.
type Document interface {
	FileName() string
	Text() string
	// ApplyEdits applies the replacements as a single undoable change.
	// Replacements arrive sorted by descending offset.
	ApplyEdits(edits []Replacement) error
}

// Replacement replaces the bytes [From, To) with Text.
type Replacement struct {
	From int
	To   int
	Text string
}

// Severity is the editor-side diagnostic severity.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// SeverityFromLSP maps an LSP severity; unknown and missing values are warnings.
func SeverityFromLSP(s lsp.DiagnosticSeverity) Severity {
	switch s {
	case lsp.DiagnosticSeverityError:
		return SeverityError
	case lsp.DiagnosticSeverityWarning:
		return SeverityWarning
	case lsp.DiagnosticSeverityInformation:
		return SeverityInfo
	case lsp.DiagnosticSeverityHint:
		return SeverityHint
	default:
		return SeverityWarning
	}
}

// Diagnostic is a diagnostic in editor byte offsets.
type Diagnostic struct {
	From     int
	To       int
	Severity Severity
	Message  string
	Source   string
}

// LintSink receives the diagnostics of a file.
type LintSink interface {
	SetDiagnostics(fileName string, diags []Diagnostic)
	// Relint asks the editor to redraw its lint markers.
	Relint(fileName string)
}

// Tooltip renders hover and code-action popups at a document offset.
type Tooltip interface {
	ShowHover(offset int, sections []string)
	ShowActions(offset int, actions []Action)
	Hide()
}

// Option configures editor components.
type Option func(*options)

type options struct {
	log            *logging.Logger
	requestTimeout time.Duration
	debounce       time.Duration
}

func defaultOptions() options {
	return options{
		log:            logging.Nop(),
		requestTimeout: 5 * time.Second,
		debounce:       600 * time.Millisecond,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRequestTimeout bounds each per-server request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithDebounce sets the quiet period before code actions are fetched.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// logRequestError records why a server contributed nothing to a request.
// Error responses mean the server declined and stay at debug level, as do
// timeouts and closed connections. Anything else is a transport fault.
func logRequestError(log *logging.Logger, method, serverID string, err error) {
	code, isRPC := lsp.IsRPCError(err)
	switch {
	case isRPC && code == lsp.CodeMethodNotFound:
		log.Debug("%s not implemented by %s", method, serverID)
	case isRPC && (code == lsp.CodeRequestCancelled || code == lsp.CodeContentModified):
		log.Debug("%s dropped by %s (code %d)", method, serverID, code)
	case isRPC:
		log.Debug("%s declined by %s (code %d): %v", method, serverID, code, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Debug("%s to %s abandoned: %v", method, serverID, err)
	case lsp.IsClosedError(err):
		log.Debug("%s to %s skipped: connection closed", method, serverID)
	default:
		log.Warn("%s to %s failed: %v", method, serverID, err)
	}
}
