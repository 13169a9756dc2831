package editor

import (
	"slices"
	"sync"

	"github.com/dshills/lspbridge/internal/logging"
	"github.com/dshills/lspbridge/internal/lsp"
)

// DiagnosticsSink republishes the diagnostics of one file to the editor.
//
// Each server's publish replaces that server's previous set. The sink hands
// the editor the composition of every server's current set, in the order the
// servers first published, and then asks it to re-lint.
type DiagnosticsSink struct {
	mu    sync.Mutex
	doc   Document
	uri   lsp.DocumentURI
	lint  LintSink
	order []string
	raw   map[string][]lsp.Diagnostic

	unsubscribe func()
	log         *logging.Logger
}

// NewDiagnosticsSink subscribes to src for diagnostics on doc's URI.
func NewDiagnosticsSink(src Source, doc Document, lint LintSink, opts ...Option) *DiagnosticsSink {
	o := buildOptions(opts)
	s := &DiagnosticsSink{
		doc:  doc,
		uri:  lsp.DocumentURIFor(doc.FileName()),
		lint: lint,
		raw:  make(map[string][]lsp.Diagnostic),
		log:  o.log.WithComponent("diagnostics").WithField("file", doc.FileName()),
	}
	s.unsubscribe = src.OnDiagnostics(s.publish)
	return s
}

func (s *DiagnosticsSink) publish(serverID string, p lsp.PublishDiagnosticsParams) {
	if p.URI != s.uri {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return
	}
	if !slices.Contains(s.order, serverID) {
		s.order = append(s.order, serverID)
	}
	s.raw[serverID] = slices.Clone(p.Diagnostics)
	s.log.Debug("%d diagnostics from %s", len(p.Diagnostics), serverID)

	fileName := s.doc.FileName()
	s.lint.SetDiagnostics(fileName, s.composeLocked())
	s.lint.Relint(fileName)
}

// composeLocked converts every server's set against the current text.
func (s *DiagnosticsSink) composeLocked() []Diagnostic {
	pc := lsp.NewPositionConverter(s.doc.Text())
	var out []Diagnostic
	for _, id := range s.order {
		for _, d := range s.raw[id] {
			out = append(out, ConvertDiagnostic(pc, id, d))
		}
	}
	return out
}

// Diagnostics returns the composed diagnostics against the current text.
func (s *DiagnosticsSink) Diagnostics() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composeLocked()
}

// At returns the LSP diagnostics whose range contains offset, across all
// servers.
func (s *DiagnosticsSink) At(offset int) []lsp.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc := lsp.NewPositionConverter(s.doc.Text())
	var out []lsp.Diagnostic
	for _, id := range s.order {
		for _, d := range s.raw[id] {
			from, to := pc.RangeToByteOffsets(d.Range)
			if from <= offset && offset <= to {
				out = append(out, d)
			}
		}
	}
	return out
}

// Close stops listening and clears the editor's diagnostics for the file.
func (s *DiagnosticsSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = nil
	s.raw = nil
	s.order = nil

	fileName := s.doc.FileName()
	s.lint.SetDiagnostics(fileName, nil)
	s.lint.Relint(fileName)
}

// ConvertDiagnostic maps an LSP diagnostic to editor offsets. Positions past
// the end of the document are clamped, so the result always lies within the
// text. The source falls back to the server id.
func ConvertDiagnostic(pc *lsp.PositionConverter, serverID string, d lsp.Diagnostic) Diagnostic {
	from, to := pc.RangeToByteOffsets(d.Range)
	source := d.Source
	if source == "" {
		source = serverID
	}
	return Diagnostic{
		From:     from,
		To:       to,
		Severity: SeverityFromLSP(d.Severity),
		Message:  d.Message,
		Source:   source,
	}
}
