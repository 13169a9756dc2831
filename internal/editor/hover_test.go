package editor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/lspbridge/internal/lsp"
)

var hoverCaps = lsp.ServerCapabilities{HoverProvider: true}

func hoverReply(contents string) func(context.Context, string, json.RawMessage) (any, error) {
	return func(context.Context, string, json.RawMessage) (any, error) {
		if contents == "" {
			return nil, nil
		}
		return map[string]any{"contents": json.RawMessage(contents)}, nil
	}
}

func TestHoverText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain string", `"  \\section  "`, `\section`},
		{"markup", `{"kind":"markdown","value":"**bold**\n"}`, "**bold**"},
		{"marked string", `{"language":"latex","value":"\\begin{document}"}`, `\begin{document}`},
		{"array", `["one", {"language":"tex","value":"two"}, "  "]`, "one\n\ntwo"},
		{"empty", `""`, ""},
		{"null", `null`, ""},
		{"number", `42`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HoverText(json.RawMessage(tt.in)))
		})
	}
}

func TestHoverAggregatesServers(t *testing.T) {
	a := newFakeClient(hoverCaps)
	a.reply = hoverReply(`{"kind":"markdown","value":"Command \\emph"}`)
	b := newFakeClient(hoverCaps)
	b.reply = hoverReply(`["Command \\emph"]`)
	c := newFakeClient(hoverCaps)
	c.reply = hoverReply(`"Package: amsmath"`)
	empty := newFakeClient(hoverCaps)
	empty.reply = hoverReply("")
	failing := newFakeClient(hoverCaps)
	failing.reply = func(context.Context, string, json.RawMessage) (any, error) {
		return nil, errors.New("method not found")
	}
	noCap := newFakeClient(lsp.ServerCapabilities{})
	noCap.reply = hoverReply(`"never asked"`)

	src := newFakeSource(server("a", a), server("b", b), server("fail", failing), server("empty", empty), server("c", c), server("nocap", noCap))
	doc := &fakeDoc{name: "doc.tex", text: "line one\n\\emph{x}"}
	tip := &fakeTooltip{}
	h := NewHoverAggregator(src, doc, tip)

	sections, err := h.Hover(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, []string{`Command \emph`, "Package: amsmath"}, sections)
	assert.Empty(t, noCap.methods(), "servers without hoverProvider are skipped")

	req := a.messages(lsp.MethodHover)
	require.Len(t, req, 1)
	assert.Equal(t, "file:///doc.tex", gjson.GetBytes(req[0], "textDocument.uri").String())
	assert.Equal(t, int64(1), gjson.GetBytes(req[0], "position.line").Int())
	assert.Equal(t, int64(2), gjson.GetBytes(req[0], "position.character").Int())

	hovers, _, _ := tip.snapshot()
	require.Len(t, hovers, 1)
	assert.Equal(t, sections, hovers[0])
}

func TestHoverNothingToShow(t *testing.T) {
	a := newFakeClient(hoverCaps)
	a.reply = hoverReply(`{"kind":"plaintext","value":"   "}`)
	tip := &fakeTooltip{}
	h := NewHoverAggregator(newFakeSource(server("a", a)), &fakeDoc{name: "doc.tex"}, tip)

	sections, err := h.Hover(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, sections)

	hovers, _, hides := tip.snapshot()
	assert.Empty(t, hovers)
	assert.Equal(t, 1, hides)
}

func TestHoverEmptyResultHidesPreviousTooltip(t *testing.T) {
	c := newFakeClient(hoverCaps)
	c.reply = func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		if gjson.GetBytes(params, "position.character").Int() == 1 {
			return map[string]any{"contents": "first"}, nil
		}
		return nil, nil
	}
	tip := &fakeTooltip{}
	h := NewHoverAggregator(newFakeSource(server("a", c)), &fakeDoc{name: "doc.tex", text: "abcdef"}, tip)

	sections, err := h.Hover(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, sections)

	sections, err = h.Hover(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, sections)

	hovers, _, hides := tip.snapshot()
	assert.Equal(t, [][]string{{"first"}}, hovers)
	assert.Equal(t, 1, hides, "an empty answer to the latest request clears the tooltip")
}

func TestHoverStaleResponseDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	c := newFakeClient(hoverCaps)
	c.reply = func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		if gjson.GetBytes(params, "position.character").Int() == 0 {
			close(started)
			<-release
			return map[string]any{"contents": "first"}, nil
		}
		return map[string]any{"contents": "second"}, nil
	}

	tip := &fakeTooltip{}
	h := NewHoverAggregator(newFakeSource(server("a", c)), &fakeDoc{name: "doc.tex", text: "abcdef"}, tip)

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.Hover(context.Background(), 0)
		firstErr <- err
	}()
	<-started

	sections, err := h.Hover(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, sections)

	close(release)
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("first hover never returned")
	}

	hovers, _, _ := tip.snapshot()
	assert.Equal(t, [][]string{{"second"}}, hovers)
}

func TestHoverRequestTimeout(t *testing.T) {
	slow := newFakeClient(hoverCaps)
	slow.reply = func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fast := newFakeClient(hoverCaps)
	fast.reply = hoverReply(`"fast"`)

	h := NewHoverAggregator(newFakeSource(server("slow", slow), server("fast", fast)),
		&fakeDoc{name: "doc.tex"}, &fakeTooltip{}, WithRequestTimeout(20*time.Millisecond))

	sections, err := h.Hover(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, sections)
}
