package lsp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigJSONShape(t *testing.T) {
	raw := `{
		"id": "texlab",
		"name": "TexLab",
		"enabled": true,
		"fileExtensions": ["tex", "bib"],
		"languageIdMap": {"bib": "bibtex"},
		"transportConfig": {"type": "websocket", "url": "ws://localhost:9000", "contentLength": true},
		"clientConfig": {"rootUri": "file:///project"}
	}`
	var cfg ServerConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, "texlab", cfg.ID)
	assert.True(t, cfg.Transport.ContentLength)
	assert.Equal(t, TransportWebSocket, cfg.Transport.Type)
	require.NotNil(t, cfg.Client)
	assert.Equal(t, DocumentURI("file:///project"), cfg.Client.RootURI)
}

func TestServerConfigMatches(t *testing.T) {
	cfg := ServerConfig{ID: "x", FileExtensions: []string{".TeX", "sty"}, FilePatterns: []string{"**/references.bib"}}
	cfg.Normalize()

	tests := []struct {
		file string
		want bool
	}{
		{"main.tex", true},
		{"chapters/INTRO.TEX", true},
		{"pkg.sty", true},
		{"main.typ", false},
		{"Makefile", false},
		{"refs/references.bib", true},
		{"refs/other.bib", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Matches(tt.file))
		})
	}
}

func TestLanguageIDFor(t *testing.T) {
	cfg := ServerConfig{LanguageIDMap: map[string]string{"tex": "context", "cls": ""}}

	assert.Equal(t, "context", cfg.LanguageIDFor("main.tex"))
	assert.Equal(t, "latex", cfg.LanguageIDFor("article.cls"), "empty override falls through")
	assert.Equal(t, "typst", cfg.LanguageIDFor("doc.typ"))
	assert.Equal(t, "bibtex", cfg.LanguageIDFor("REFS.BIB"))
	assert.Equal(t, "plaintext", cfg.LanguageIDFor("notes.xyz"))
	assert.Equal(t, "plaintext", cfg.LanguageIDFor("README"))
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, ServerConfig{}.Validate(), ErrInvalidConfig)
	assert.NoError(t, ServerConfig{ID: "a", Transport: TransportConfig{Type: "weird"}}.Validate())

	assert.NoError(t, TransportConfig{Type: TransportWebSocket, URL: "ws://x"}.Validate())
	assert.ErrorIs(t, TransportConfig{Type: TransportWebSocket}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, TransportConfig{Type: TransportWorker}.Validate(), ErrTransportUnsupported)
}

func TestConfigUpdateApply(t *testing.T) {
	base := ServerConfig{
		ID:             "a",
		Name:           "A",
		Enabled:        true,
		FileExtensions: []string{"tex"},
		Transport:      TransportConfig{Type: TransportWebSocket, URL: "ws://a"},
		Client:         &ClientConfig{RootURI: "file:///"},
	}

	name := "Renamed"
	merged, changed := ConfigUpdate{Name: &name, FileExtensions: []string{".BIB"}}.Apply(base)
	assert.False(t, changed)
	assert.Equal(t, "Renamed", merged.Name)
	assert.Equal(t, []string{"bib"}, merged.FileExtensions)
	assert.Equal(t, []string{"tex"}, base.FileExtensions, "base is not mutated")

	merged, changed = ConfigUpdate{Client: &ClientConfig{RootURI: "file:///"}}.Apply(base)
	assert.False(t, changed, "equal client config is not a change")
	assert.NotSame(t, base.Client, merged.Client)

	merged, changed = ConfigUpdate{Client: &ClientConfig{RootURI: "file:///other"}}.Apply(base)
	assert.True(t, changed)
	assert.Equal(t, DocumentURI("file:///other"), merged.Client.RootURI)

	tc := TransportConfig{Type: TransportWebSocket, URL: "ws://a", ContentLength: true}
	_, changed = ConfigUpdate{Transport: &tc}.Apply(base)
	assert.True(t, changed)
}

func TestDiff(t *testing.T) {
	from := ServerConfig{ID: "a", Name: "A", Enabled: true, FileExtensions: []string{"tex"},
		Transport: TransportConfig{Type: TransportWebSocket, URL: "ws://a"}}

	_, changed := Diff(from, from.Clone())
	assert.False(t, changed)

	to := from.Clone()
	to.Enabled = false
	to.FileExtensions = nil
	to.Transport.URL = "ws://b"
	u, changed := Diff(from, to)
	require.True(t, changed)

	merged, connChanged := u.Apply(from)
	assert.True(t, connChanged)
	assert.False(t, merged.Enabled)
	assert.Empty(t, merged.FileExtensions)
	assert.Equal(t, "ws://b", merged.Transport.URL)
}

func TestConnectionStatusText(t *testing.T) {
	data, err := json.Marshal(map[string]ConnectionStatus{"a": StatusConnecting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"connecting"}`, string(data))

	var st ConnectionStatus
	require.NoError(t, st.UnmarshalText([]byte("error")))
	assert.Equal(t, StatusError, st)
	assert.Error(t, st.UnmarshalText([]byte("sleeping")))
}
