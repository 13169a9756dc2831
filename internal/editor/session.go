package editor

import "context"

// Session wires every editor integration for one open document.
type Session struct {
	Sync        *SyncBinding
	Diagnostics *DiagnosticsSink
	Hover       *HoverAggregator
	Actions     *CodeActions

	doc Document
}

// Open binds doc to the servers of src. The diagnostics subscription is made
// before didOpen is sent so the first publish is not missed.
func Open(ctx context.Context, src Source, versions *VersionTable, doc Document, lint LintSink, tooltip Tooltip, opts ...Option) *Session {
	s := &Session{doc: doc}
	s.Diagnostics = NewDiagnosticsSink(src, doc, lint, opts...)
	s.Hover = NewHoverAggregator(src, doc, tooltip, opts...)
	s.Actions = NewCodeActions(src, doc, s.Diagnostics, tooltip, opts...)
	s.Sync = Bind(ctx, src, versions, doc.FileName(), doc.Text(), opts...)
	return s
}

// DocumentChanged pushes the current text and resets the code-action tooltip.
func (s *Session) DocumentChanged(ctx context.Context) {
	s.Actions.DocumentChanged()
	s.Sync.Changed(ctx, s.doc.Text())
}

// SelectionChanged forwards the cursor offset to the code-action tooltip.
func (s *Session) SelectionChanged(offset int) {
	s.Actions.SelectionChanged(offset)
}

// Close closes the document on every server and detaches from the registry.
func (s *Session) Close(ctx context.Context) {
	s.Actions.Close()
	s.Diagnostics.Close()
	s.Sync.Close(ctx)
}
