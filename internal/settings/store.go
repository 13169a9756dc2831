// Package settings persists the list of language server configs and keeps a
// registry in step with it.
//
// A store file holds either a bare array of server configs or an object with
// a "servers" array. JSON, JSON with comments, YAML and TOML are accepted,
// chosen by file extension. TOML has no top-level arrays, so TOML files always
// use the "servers" form.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"github.com/dshills/lspbridge/internal/logging"
	"github.com/dshills/lspbridge/internal/lsp"
)

// Format is the encoding of a store file.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

// ErrUnknownFormat is returned for a file extension with no known format.
var ErrUnknownFormat = errors.New("settings: unknown file format")

// FormatFor picks the format from a file name.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonc":
		return FormatJSONC, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// ParseError reports a store file that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// document is the object form of a store file.
type document struct {
	Servers []lsp.ServerConfig `json:"servers" yaml:"servers" toml:"servers"`
}

// FileStore reads and writes server configs in one file.
type FileStore struct {
	path   string
	format Format
	log    *logging.Logger
}

// StoreOption configures a FileStore.
type StoreOption func(*FileStore)

// WithStoreLogger sets the store logger.
func WithStoreLogger(l *logging.Logger) StoreOption {
	return func(s *FileStore) {
		if l != nil {
			s.log = l
		}
	}
}

// NewFileStore creates a store for path. The format follows the extension.
func NewFileStore(path string, opts ...StoreOption) (*FileStore, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	s := &FileStore{path: path, format: format, log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("settings").WithField("path", path)
	return s, nil
}

// Path returns the store file path.
func (s *FileStore) Path() string { return s.path }

// Format returns the store file format.
func (s *FileStore) Format() Format { return s.format }

// Load reads the configs. A missing file is an empty list, not an error.
func (s *FileStore) Load() ([]lsp.ServerConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading settings %s: %w", s.path, err)
	}
	configs, err := s.decode(data)
	if err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}
	for i := range configs {
		configs[i].Normalize()
	}
	return configs, nil
}

func (s *FileStore) decode(data []byte) ([]lsp.ServerConfig, error) {
	switch s.format {
	case FormatJSON, FormatJSONC:
		data = jsonc.ToJSON(data)
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		var configs []lsp.ServerConfig
		if gjson.ParseBytes(data).IsArray() {
			err := json.Unmarshal(data, &configs)
			return configs, err
		}
		var doc document
		err := json.Unmarshal(data, &doc)
		return doc.Servers, err
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		if len(node.Content) == 0 {
			return nil, nil
		}
		if node.Content[0].Kind == yaml.SequenceNode {
			var configs []lsp.ServerConfig
			err := node.Decode(&configs)
			return configs, err
		}
		var doc document
		err := node.Decode(&doc)
		return doc.Servers, err
	case FormatTOML:
		var doc document
		err := toml.Unmarshal(data, &doc)
		return doc.Servers, err
	}
	return nil, ErrUnknownFormat
}

// Save replaces the file with configs. JSON is written indented by
// tidwall/pretty; the write goes through a temp file and a rename so watchers
// never observe a half-written file.
func (s *FileStore) Save(configs []lsp.ServerConfig) error {
	if configs == nil {
		configs = []lsp.ServerConfig{}
	}
	data, err := s.encode(configs)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return s.write(data)
}

func (s *FileStore) encode(configs []lsp.ServerConfig) ([]byte, error) {
	switch s.format {
	case FormatJSON, FormatJSONC:
		data, err := json.Marshal(configs)
		if err != nil {
			return nil, err
		}
		return pretty.PrettyOptions(data, &pretty.Options{Indent: "  ", Width: 80}), nil
	case FormatYAML:
		return yaml.Marshal(configs)
	case FormatTOML:
		return toml.Marshal(document{Servers: configs})
	}
	return nil, ErrUnknownFormat
}

func (s *FileStore) write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	s.log.Debug("saved %d bytes", len(data))
	return nil
}

// Get reads a gjson path from the stored configs, for example "0.name" or
// "#(id==texlab).transportConfig.url". The path is evaluated against the
// array form whatever the file format.
func (s *FileStore) Get(path string) (gjson.Result, error) {
	data, err := s.arrayJSON()
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(data, path), nil
}

// SetField sets one field of the config with the given id. field is an sjson
// path relative to the config, such as "enabled" or "transportConfig.url".
//
// JSON files are patched in place so unrelated content and key order are
// kept; comments in a JSONC file are blanked. Other formats are rewritten from the patched configs. The result must
// still decode, or nothing is written.
func (s *FileStore) SetField(id, field string, value any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading settings %s: %w", s.path, err)
	}

	if s.format == FormatJSON || s.format == FormatJSONC {
		clean := jsonc.ToJSON(data)
		list := gjson.ParseBytes(clean)
		prefix := ""
		if !list.IsArray() {
			prefix = "servers."
			list = list.Get("servers")
		}
		idx, err := indexOf(list, id)
		if err != nil {
			return err
		}
		patched, err := sjson.SetBytes(clean, fmt.Sprintf("%s%d.%s", prefix, idx, field), value)
		if err != nil {
			return fmt.Errorf("setting %s.%s: %w", id, field, err)
		}
		if _, err := s.decode(patched); err != nil {
			return &ParseError{Path: s.path, Err: err}
		}
		return s.write(patched)
	}

	configs, err := s.decode(data)
	if err != nil {
		return &ParseError{Path: s.path, Err: err}
	}
	arr, err := json.Marshal(configs)
	if err != nil {
		return err
	}
	idx, err := indexOf(gjson.ParseBytes(arr), id)
	if err != nil {
		return err
	}
	patched, err := sjson.SetBytes(arr, fmt.Sprintf("%d.%s", idx, field), value)
	if err != nil {
		return fmt.Errorf("setting %s.%s: %w", id, field, err)
	}
	var out []lsp.ServerConfig
	if err := json.Unmarshal(patched, &out); err != nil {
		return fmt.Errorf("setting %s.%s: %w", id, field, err)
	}
	return s.Save(out)
}

// indexOf finds the array index of the config with id.
func indexOf(list gjson.Result, id string) (int, error) {
	idx := -1
	i := 0
	list.ForEach(func(_, v gjson.Result) bool {
		if v.Get("id").String() == id {
			idx = i
			return false
		}
		i++
		return true
	})
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", lsp.ErrUnknownServer, id)
	}
	return idx, nil
}

func (s *FileStore) arrayJSON() ([]byte, error) {
	configs, err := s.Load()
	if err != nil {
		return nil, err
	}
	if configs == nil {
		configs = []lsp.ServerConfig{}
	}
	return json.Marshal(configs)
}
