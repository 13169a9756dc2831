package editor

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/lspbridge/internal/logging"
	"github.com/dshills/lspbridge/internal/lsp"
)

// VersionTable holds the document version of every open file. One counter is
// shared by all servers a file is open on, so a server that reconnects while
// the file stays open keeps receiving the same numbers.
type VersionTable struct {
	mu       sync.Mutex
	versions map[string]int
}

// NewVersionTable creates an empty table.
func NewVersionTable() *VersionTable {
	return &VersionTable{versions: make(map[string]int)}
}

// Open returns the current version of fileName, starting it at 1.
func (t *VersionTable) Open(fileName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[fileName]
	if !ok {
		v = 1
		t.versions[fileName] = v
	}
	return v
}

// Next increments and returns the version of fileName.
func (t *VersionTable) Next(fileName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[fileName]
	if !ok {
		v = 1
	}
	v++
	t.versions[fileName] = v
	return v
}

// Get returns the version of fileName if it is open.
func (t *VersionTable) Get(fileName string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[fileName]
	return v, ok
}

// Drop forgets fileName.
func (t *VersionTable) Drop(fileName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.versions, fileName)
}

// SyncBinding keeps one open file synchronized with every server that matched
// it when the binding was created. Sends are fire-and-forget: failures are
// logged at debug level and never reach the editor.
type SyncBinding struct {
	mu       sync.Mutex
	fileName string
	uri      lsp.DocumentURI
	versions *VersionTable
	servers  []lsp.ServerClient
	closed   bool

	log     *logging.Logger
	timeout time.Duration
}

// Bind opens fileName on every server currently matching it.
func Bind(ctx context.Context, src Source, versions *VersionTable, fileName, text string, opts ...Option) *SyncBinding {
	o := buildOptions(opts)
	b := &SyncBinding{
		fileName: fileName,
		uri:      lsp.DocumentURIFor(fileName),
		versions: versions,
		servers:  src.AllClientsForFile(fileName),
		log:      o.log.WithComponent("sync").WithField("file", fileName),
		timeout:  o.requestTimeout,
	}

	version := versions.Open(fileName)
	for _, sc := range b.servers {
		b.notify(ctx, sc, lsp.MethodDidOpen, lsp.DidOpenTextDocumentParams{
			TextDocument: lsp.TextDocumentItem{
				URI:        b.uri,
				LanguageID: sc.Config.LanguageIDFor(fileName),
				Version:    version,
				Text:       text,
			},
		})
	}
	return b
}

// Servers returns the ids of the bound servers in registry order.
func (b *SyncBinding) Servers() []string {
	ids := make([]string, len(b.servers))
	for i, sc := range b.servers {
		ids[i] = sc.ID
	}
	return ids
}

// Changed sends the full new text to every bound server.
func (b *SyncBinding) Changed(ctx context.Context, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	version := b.versions.Next(b.fileName)
	params := lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: b.uri},
			Version:                version,
		},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{{Text: text}},
	}
	for _, sc := range b.servers {
		b.notify(ctx, sc, lsp.MethodDidChange, params)
	}
}

// Close sends didClose to every bound server and drops the version entry.
// It is safe to call more than once.
func (b *SyncBinding) Close(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	params := lsp.DidCloseTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: b.uri},
	}
	for _, sc := range b.servers {
		b.notify(ctx, sc, lsp.MethodDidClose, params)
	}
	b.versions.Drop(b.fileName)
}

func (b *SyncBinding) notify(ctx context.Context, sc lsp.ServerClient, method string, params any) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	err := sc.Client.Notify(ctx, method, params)
	switch {
	case err == nil:
	case lsp.IsClosedError(err):
		b.log.Debug("%s to %s skipped: connection closed", method, sc.ID)
	default:
		b.log.Debug("%s to %s failed: %v", method, sc.ID, err)
	}
}
