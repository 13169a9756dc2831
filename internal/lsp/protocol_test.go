package lsp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentURIFor(t *testing.T) {
	assert.Equal(t, DocumentURI("file:///main.tex"), DocumentURIFor("main.tex"))
	assert.Equal(t, DocumentURI("file:///chapters/a.tex"), DocumentURIFor("/chapters/a.tex"))
}

func TestHasCapability(t *testing.T) {
	assert.False(t, HasCapability(nil))
	assert.False(t, HasCapability(false))
	assert.True(t, HasCapability(true))
	assert.True(t, HasCapability(map[string]any{"workDoneProgress": true}))
}

func TestParseCodeActionResult(t *testing.T) {
	raw := json.RawMessage(`[
		{"title": "Run fixer", "command": "texlab.fix", "arguments": [1]},
		{"title": "Fix typo", "kind": "quickfix", "edit": {"changes": {"file:///a.tex": [{"range": {"start": {"line":0,"character":0}, "end": {"line":0,"character":3}}, "newText": "the"}]}}},
		{"title": "Both", "command": {"title": "Both", "command": "x.both"}},
		42
	]`)

	actions := ParseCodeActionResult(raw)
	require.Len(t, actions, 3)

	assert.Equal(t, "Run fixer", actions[0].Title)
	require.NotNil(t, actions[0].Command)
	assert.Equal(t, "texlab.fix", actions[0].Command.Command)
	assert.Nil(t, actions[0].Edit)

	assert.Equal(t, CodeActionKindQuickFix, actions[1].Kind)
	require.NotNil(t, actions[1].Edit)
	assert.Len(t, actions[1].Edit.Changes["file:///a.tex"], 1)

	require.NotNil(t, actions[2].Command)
	assert.Equal(t, "x.both", actions[2].Command.Command)

	assert.Empty(t, ParseCodeActionResult(json.RawMessage(`null`)))
}

func TestWorkspaceEditEditsFor(t *testing.T) {
	var edit WorkspaceEdit
	require.NoError(t, json.Unmarshal([]byte(`{
		"changes": {
			"file:///a.tex": [{"range": {"start": {"line":0,"character":0}, "end": {"line":0,"character":1}}, "newText": "A"}],
			"file:///b.tex": [{"range": {"start": {"line":0,"character":0}, "end": {"line":0,"character":1}}, "newText": "B"}]
		},
		"documentChanges": [
			{"textDocument": {"uri": "file:///a.tex", "version": null}, "edits": [{"range": {"start": {"line":1,"character":0}, "end": {"line":1,"character":0}}, "newText": "x"}]},
			{"kind": "create", "uri": "file:///new.tex"},
			{"textDocument": {"uri": "file:///b.tex", "version": 3}, "edits": []}
		]
	}`), &edit))

	// documentChanges wins over changes when both are sent.
	edits := edit.EditsFor("file:///a.tex")
	require.Len(t, edits, 1)
	assert.Equal(t, "x", edits[0].NewText)
	assert.Empty(t, edit.EditsFor("file:///b.tex"))

	var changesOnly WorkspaceEdit
	require.NoError(t, json.Unmarshal([]byte(`{
		"changes": {"file:///a.tex": [{"range": {"start": {"line":0,"character":0}, "end": {"line":0,"character":1}}, "newText": "A"}]}
	}`), &changesOnly))
	edits = changesOnly.EditsFor("file:///a.tex")
	require.Len(t, edits, 1)
	assert.Equal(t, "A", edits[0].NewText)

	var emptyDocumentChanges WorkspaceEdit
	require.NoError(t, json.Unmarshal([]byte(`{
		"changes": {"file:///a.tex": [{"range": {"start": {"line":0,"character":0}, "end": {"line":0,"character":1}}, "newText": "A"}]},
		"documentChanges": []
	}`), &emptyDocumentChanges))
	assert.Empty(t, emptyDocumentChanges.EditsFor("file:///a.tex"))

	var nilEdit *WorkspaceEdit
	assert.Empty(t, nilEdit.EditsFor("file:///a.tex"))
}

func TestDetectLanguageID(t *testing.T) {
	assert.Equal(t, "latex", DetectLanguageID("main.tex"))
	assert.Equal(t, "typst", DetectLanguageID("doc.TYP"))
	assert.Equal(t, "plaintext", DetectLanguageID("unknown.zzz"))
	assert.Equal(t, "tex", FileExtension("A.TeX"))
	assert.Equal(t, "", FileExtension("Makefile"))
}
