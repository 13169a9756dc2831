package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lspbridge/internal/lsp"
)

func rng(sl, sc, el, ec int) lsp.Range {
	return lsp.Range{Start: lsp.Position{Line: sl, Character: sc}, End: lsp.Position{Line: el, Character: ec}}
}

func TestSeverityFromLSP(t *testing.T) {
	tests := []struct {
		in   lsp.DiagnosticSeverity
		want Severity
	}{
		{lsp.DiagnosticSeverityError, SeverityError},
		{lsp.DiagnosticSeverityWarning, SeverityWarning},
		{lsp.DiagnosticSeverityInformation, SeverityInfo},
		{lsp.DiagnosticSeverityHint, SeverityHint},
		{0, SeverityWarning},
		{9, SeverityWarning},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFromLSP(tt.in), "severity %d", tt.in)
	}
}

func TestConvertDiagnosticClamps(t *testing.T) {
	text := "first line\nsecond\nlast"
	pc := lsp.NewPositionConverter(text)

	d := ConvertDiagnostic(pc, "ltex", lsp.Diagnostic{Range: rng(1, 2, 40, 3), Message: "past the end"})
	assert.Equal(t, 13, d.From)
	assert.LessOrEqual(t, d.To, len(text))
	assert.Equal(t, len(text)-1, d.To, "end line clamps to the last line, character to its length")
	assert.Equal(t, "ltex", d.Source)
	assert.Equal(t, SeverityWarning, d.Severity)

	d = ConvertDiagnostic(pc, "ltex", lsp.Diagnostic{Range: rng(0, 500, 0, 900), Source: "chktex"})
	assert.Equal(t, 10, d.From)
	assert.Equal(t, 10, d.To)
	assert.Equal(t, "chktex", d.Source)

	d = ConvertDiagnostic(lsp.NewPositionConverter(""), "x", lsp.Diagnostic{Range: rng(3, 3, 7, 7)})
	assert.Equal(t, 0, d.From)
	assert.Equal(t, 0, d.To)
}

func TestDiagnosticsSinkComposesPerServer(t *testing.T) {
	src := newFakeSource()
	doc := &fakeDoc{name: "doc.tex", text: "alpha beta\ngamma"}
	lint := &fakeLint{}
	sink := NewDiagnosticsSink(src, doc, lint)

	src.publish("b", lsp.PublishDiagnosticsParams{URI: "file:///doc.tex", Diagnostics: []lsp.Diagnostic{
		{Range: rng(0, 0, 0, 5), Severity: lsp.DiagnosticSeverityError, Message: "from b"},
	}})
	src.publish("a", lsp.PublishDiagnosticsParams{URI: "file:///doc.tex", Diagnostics: []lsp.Diagnostic{
		{Range: rng(1, 0, 1, 5), Severity: lsp.DiagnosticSeverityHint, Message: "from a"},
	}})
	src.publish("a", lsp.PublishDiagnosticsParams{URI: "file:///other.tex", Diagnostics: []lsp.Diagnostic{
		{Range: rng(0, 0, 0, 1), Message: "wrong file"},
	}})

	got := lint.last()
	require.Len(t, got, 2)
	assert.Equal(t, Diagnostic{From: 0, To: 5, Severity: SeverityError, Message: "from b", Source: "b"}, got[0])
	assert.Equal(t, Diagnostic{From: 11, To: 16, Severity: SeverityHint, Message: "from a", Source: "a"}, got[1])
	assert.Equal(t, 2, lint.relints)

	src.publish("b", lsp.PublishDiagnosticsParams{URI: "file:///doc.tex", Diagnostics: []lsp.Diagnostic{
		{Range: rng(0, 6, 0, 10), Message: "replaced"},
	}})
	got = lint.last()
	require.Len(t, got, 2)
	assert.Equal(t, "replaced", got[0].Message, "server order stays stable")
	assert.Equal(t, "from a", got[1].Message)

	src.publish("a", lsp.PublishDiagnosticsParams{URI: "file:///doc.tex"})
	got = lint.last()
	require.Len(t, got, 1)
	assert.Equal(t, "replaced", got[0].Message)
	assert.Len(t, sink.Diagnostics(), 1)
}

func TestDiagnosticsSinkAt(t *testing.T) {
	src := newFakeSource()
	doc := &fakeDoc{name: "doc.tex", text: "teh cat sat"}
	sink := NewDiagnosticsSink(src, doc, &fakeLint{})

	typo := lsp.Diagnostic{Range: rng(0, 0, 0, 3), Message: "typo"}
	other := lsp.Diagnostic{Range: rng(0, 8, 0, 11), Message: "style"}
	src.publish("ltex", lsp.PublishDiagnosticsParams{URI: "file:///doc.tex", Diagnostics: []lsp.Diagnostic{typo, other}})

	assert.Equal(t, []lsp.Diagnostic{typo}, sink.At(1))
	assert.Equal(t, []lsp.Diagnostic{typo}, sink.At(3))
	assert.Empty(t, sink.At(5))
	assert.Equal(t, []lsp.Diagnostic{other}, sink.At(9))
}

func TestDiagnosticsSinkClose(t *testing.T) {
	src := newFakeSource()
	lint := &fakeLint{}
	sink := NewDiagnosticsSink(src, &fakeDoc{name: "doc.tex", text: "x"}, lint)
	require.Equal(t, 1, src.listenerCount())

	src.publish("a", lsp.PublishDiagnosticsParams{URI: "file:///doc.tex", Diagnostics: []lsp.Diagnostic{{Message: "m"}}})
	sink.Close()
	sink.Close()

	assert.Equal(t, 0, src.listenerCount())
	assert.Empty(t, lint.last(), "close clears the editor markers")

	sink.publish("a", lsp.PublishDiagnosticsParams{URI: "file:///doc.tex", Diagnostics: []lsp.Diagnostic{{Message: "late"}}})
	assert.Empty(t, lint.last())
}
