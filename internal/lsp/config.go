package lsp

import (
	"fmt"
	"maps"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// TransportType selects how the bridge reaches a language server.
type TransportType string

const (
	// TransportWebSocket connects to a server over ws:// or wss://.
	TransportWebSocket TransportType = "websocket"
	// TransportWorker names an in-process worker script. It is accepted in
	// configs but cannot be connected by this bridge.
	TransportWorker TransportType = "worker"
)

// TransportConfig describes how to reach one server.
type TransportConfig struct {
	Type       TransportType `json:"type" yaml:"type" toml:"type"`
	URL        string        `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	WorkerPath string        `json:"workerPath,omitempty" yaml:"workerPath,omitempty" toml:"workerPath,omitempty"`
	// ContentLength enables LSP base-protocol framing inside WebSocket frames.
	ContentLength bool `json:"contentLength,omitempty" yaml:"contentLength,omitempty" toml:"contentLength,omitempty"`
}

// ClientConfig carries the initialize parameters for one server.
type ClientConfig struct {
	RootURI               DocumentURI       `json:"rootUri,omitempty" yaml:"rootUri,omitempty" toml:"rootUri,omitempty"`
	WorkspaceFolders      []WorkspaceFolder `json:"workspaceFolders,omitempty" yaml:"workspaceFolders,omitempty" toml:"workspaceFolders,omitempty"`
	InitializationOptions any               `json:"initializationOptions,omitempty" yaml:"initializationOptions,omitempty" toml:"initializationOptions,omitempty"`
	// Settings answers workspace/configuration requests, keyed by section.
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty" toml:"settings,omitempty"`
}

// ServerConfig is one configured language server.
type ServerConfig struct {
	ID             string            `json:"id" yaml:"id" toml:"id"`
	Name           string            `json:"name" yaml:"name" toml:"name"`
	Enabled        bool              `json:"enabled" yaml:"enabled" toml:"enabled"`
	FileExtensions []string          `json:"fileExtensions" yaml:"fileExtensions" toml:"fileExtensions"`
	LanguageIDMap  map[string]string `json:"languageIdMap,omitempty" yaml:"languageIdMap,omitempty" toml:"languageIdMap,omitempty"`
	FilePatterns   []string          `json:"filePatterns,omitempty" yaml:"filePatterns,omitempty" toml:"filePatterns,omitempty"`
	Transport      TransportConfig   `json:"transportConfig" yaml:"transportConfig" toml:"transportConfig"`
	Client         *ClientConfig     `json:"clientConfig,omitempty" yaml:"clientConfig,omitempty" toml:"clientConfig,omitempty"`
}

// Validate checks the fields the registry depends on. Transport problems
// are not rejected here; they surface as StatusError when connecting.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}
	for _, p := range c.FilePatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: server %s: bad file pattern %q", ErrInvalidConfig, c.ID, p)
		}
	}
	return nil
}

// Validate reports whether the transport can be connected by this bridge.
func (t TransportConfig) Validate() error {
	switch t.Type {
	case TransportWebSocket:
		if t.URL == "" {
			return fmt.Errorf("%w: websocket transport without url", ErrInvalidConfig)
		}
		return nil
	case TransportWorker:
		return fmt.Errorf("%w: worker %q", ErrTransportUnsupported, t.WorkerPath)
	default:
		return fmt.Errorf("%w: %q", ErrTransportUnsupported, t.Type)
	}
}

// Normalize lowercases extensions and strips leading dots.
func (c *ServerConfig) Normalize() {
	for i, ext := range c.FileExtensions {
		c.FileExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
}

// Matches reports whether fileName belongs to this server, by extension or
// by one of the configured glob patterns.
func (c ServerConfig) Matches(fileName string) bool {
	ext := FileExtension(fileName)
	if ext != "" && slices.Contains(c.FileExtensions, ext) {
		return true
	}
	name := filepath.ToSlash(fileName)
	for _, p := range c.FilePatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// LanguageIDFor returns the languageId to announce for fileName: the
// per-server override, then the built-in table, then "plaintext".
func (c ServerConfig) LanguageIDFor(fileName string) string {
	if id, ok := c.LanguageIDMap[FileExtension(fileName)]; ok && id != "" {
		return id
	}
	return DetectLanguageID(fileName)
}

// Clone returns a copy that shares no slices or maps with c.
func (c ServerConfig) Clone() ServerConfig {
	out := c
	out.FileExtensions = slices.Clone(c.FileExtensions)
	out.FilePatterns = slices.Clone(c.FilePatterns)
	out.LanguageIDMap = maps.Clone(c.LanguageIDMap)
	if c.Client != nil {
		cc := *c.Client
		cc.WorkspaceFolders = slices.Clone(c.Client.WorkspaceFolders)
		cc.Settings = maps.Clone(c.Client.Settings)
		out.Client = &cc
	}
	return out
}

// ConfigUpdate is a partial update. Nil fields leave the stored value alone.
type ConfigUpdate struct {
	Name           *string
	Enabled        *bool
	FileExtensions []string
	LanguageIDMap  map[string]string
	FilePatterns   []string
	Transport      *TransportConfig
	Client         *ClientConfig
}

// Apply merges u over cfg and reports whether a connection-relevant field
// (transport or client config) changed value.
func (u ConfigUpdate) Apply(cfg ServerConfig) (merged ServerConfig, connectionChanged bool) {
	merged = cfg.Clone()
	if u.Name != nil {
		merged.Name = *u.Name
	}
	if u.Enabled != nil {
		merged.Enabled = *u.Enabled
	}
	if u.FileExtensions != nil {
		merged.FileExtensions = slices.Clone(u.FileExtensions)
		merged.Normalize()
	}
	if u.LanguageIDMap != nil {
		merged.LanguageIDMap = maps.Clone(u.LanguageIDMap)
	}
	if u.FilePatterns != nil {
		merged.FilePatterns = slices.Clone(u.FilePatterns)
	}
	if u.Transport != nil && *u.Transport != cfg.Transport {
		merged.Transport = *u.Transport
		connectionChanged = true
	}
	if u.Client != nil && !reflect.DeepEqual(u.Client, cfg.Client) {
		cc := *u.Client
		merged.Client = &cc
		connectionChanged = true
	}
	return merged, connectionChanged
}

// Diff builds the update that turns from into to. It is used when a whole
// config list is replaced, for example after the settings file changes.
func Diff(from, to ServerConfig) (ConfigUpdate, bool) {
	var u ConfigUpdate
	changed := false
	if from.Name != to.Name {
		u.Name = &to.Name
		changed = true
	}
	if from.Enabled != to.Enabled {
		u.Enabled = &to.Enabled
		changed = true
	}
	if !slices.Equal(from.FileExtensions, to.FileExtensions) {
		u.FileExtensions = slices.Clone(to.FileExtensions)
		if u.FileExtensions == nil {
			u.FileExtensions = []string{}
		}
		changed = true
	}
	if !maps.Equal(from.LanguageIDMap, to.LanguageIDMap) {
		u.LanguageIDMap = maps.Clone(to.LanguageIDMap)
		if u.LanguageIDMap == nil {
			u.LanguageIDMap = map[string]string{}
		}
		changed = true
	}
	if !slices.Equal(from.FilePatterns, to.FilePatterns) {
		u.FilePatterns = slices.Clone(to.FilePatterns)
		if u.FilePatterns == nil {
			u.FilePatterns = []string{}
		}
		changed = true
	}
	if from.Transport != to.Transport {
		t := to.Transport
		u.Transport = &t
		changed = true
	}
	if !reflect.DeepEqual(from.Client, to.Client) && to.Client != nil {
		c := *to.Client
		u.Client = &c
		changed = true
	}
	return u, changed
}
