package lsp

import (
	"encoding/json"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// LSP method names used by the bridge.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodDidClose           = "textDocument/didClose"
	MethodHover              = "textDocument/hover"
	MethodCodeAction         = "textDocument/codeAction"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodExecuteCommand     = "workspace/executeCommand"
	MethodConfiguration      = "workspace/configuration"
	MethodApplyEdit          = "workspace/applyEdit"
	MethodRegisterCapability = "client/registerCapability"
	MethodWorkDoneCreate     = "window/workDoneProgress/create"
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"
)

// DocumentURI represents a URI as used in LSP.
type DocumentURI string

// DocumentURIFor returns the URI the bridge uses for an editor file name:
// file:/// followed by the project-relative name.
func DocumentURIFor(fileName string) DocumentURI {
	return DocumentURI("file:///" + strings.TrimLeft(filepath.ToSlash(fileName), "/"))
}

// Position in a text document expressed as zero-based line and character offset.
// Character offset is measured in UTF-16 code units per the LSP specification.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document expressed as start and end positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TextDocumentIdentifier identifies a text document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier identifies a specific version of a text document.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// OptionalVersionedTextDocumentIdentifier is used in edits where the version may be null.
type OptionalVersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version *int `json:"version"`
}

// TextDocumentItem is an item to transfer a text document from the client to the server.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentPositionParams is a parameter literal used in requests to pass
// a text document and a position inside that document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// TextEdit represents a textual edit applicable to a text document.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// TextDocumentEdit is one entry of WorkspaceEdit.documentChanges.
type TextDocumentEdit struct {
	TextDocument OptionalVersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                              `json:"edits"`
}

// TextDocumentContentChangeEvent describes a content change event.
// The bridge always sends full-text changes, so Range is never set.
type TextDocumentContentChangeEvent struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// MarkupContent represents human readable text.
type MarkupContent struct {
	Kind  MarkupKind `json:"kind"`
	Value string     `json:"value"`
}

// MarkupKind describes the content type.
type MarkupKind string

const (
	MarkupKindPlainText MarkupKind = "plaintext"
	MarkupKindMarkdown  MarkupKind = "markdown"
)

// Command represents a reference to a command.
type Command struct {
	Title     string `json:"title"`
	Command   string `json:"command"`
	Arguments []any  `json:"arguments,omitempty"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// WorkspaceEdit represents changes to many resources managed in the workspace.
// DocumentChanges holds TextDocumentEdit or resource operations; only the
// former carry text edits.
type WorkspaceEdit struct {
	Changes         map[DocumentURI][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []json.RawMessage          `json:"documentChanges,omitempty"`
}

// EditsFor returns the text edits that target uri. When documentChanges is
// present it is used and changes is ignored, since the bridge advertises
// documentChanges support. Resource operations and malformed entries are
// skipped.
func (w *WorkspaceEdit) EditsFor(uri DocumentURI) []TextEdit {
	if w == nil {
		return nil
	}
	if w.DocumentChanges == nil {
		return slices.Clone(w.Changes[uri])
	}
	var edits []TextEdit
	for _, raw := range w.DocumentChanges {
		if !gjson.GetBytes(raw, "textDocument").IsObject() {
			continue
		}
		var tde TextDocumentEdit
		if err := json.Unmarshal(raw, &tde); err != nil {
			continue
		}
		if tde.TextDocument.URI == uri {
			edits = append(edits, tde.Edits...)
		}
	}
	return edits
}

// --- Initialize ---

// InitializeParams are the parameters sent in an initialize request.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	RootURI               DocumentURI        `json:"rootUri"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// ClientInfo identifies the client to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo contains information about the language server from initialization.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializedParams are the parameters sent in an initialized notification.
type InitializedParams struct{}

// --- Capabilities ---

// ClientCapabilities define capabilities the bridge provides on the client side.
type ClientCapabilities struct {
	Workspace    *WorkspaceClientCapabilities    `json:"workspace,omitempty"`
	TextDocument *TextDocumentClientCapabilities `json:"textDocument,omitempty"`
	Window       *WindowClientCapabilities       `json:"window,omitempty"`
}

// WorkspaceClientCapabilities define workspace-level client capabilities.
type WorkspaceClientCapabilities struct {
	ApplyEdit        bool                             `json:"applyEdit"`
	WorkspaceEdit    *WorkspaceEditClientCapabilities `json:"workspaceEdit,omitempty"`
	WorkspaceFolders bool                             `json:"workspaceFolders"`
	Configuration    bool                             `json:"configuration"`
	ExecuteCommand   *DynamicRegistration             `json:"executeCommand,omitempty"`
}

// WorkspaceEditClientCapabilities describe workspace edit support.
type WorkspaceEditClientCapabilities struct {
	DocumentChanges bool `json:"documentChanges"`
}

// DynamicRegistration is the common dynamicRegistration capability shape.
type DynamicRegistration struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

// TextDocumentClientCapabilities define text document client capabilities.
type TextDocumentClientCapabilities struct {
	Synchronization    *TextDocumentSyncClientCapabilities   `json:"synchronization,omitempty"`
	Hover              *HoverClientCapabilities              `json:"hover,omitempty"`
	CodeAction         *CodeActionClientCapabilities         `json:"codeAction,omitempty"`
	PublishDiagnostics *PublishDiagnosticsClientCapabilities `json:"publishDiagnostics,omitempty"`
}

// TextDocumentSyncClientCapabilities describe sync support.
type TextDocumentSyncClientCapabilities struct {
	DidSave bool `json:"didSave"`
}

// HoverClientCapabilities describe hover support.
type HoverClientCapabilities struct {
	ContentFormat []MarkupKind `json:"contentFormat,omitempty"`
}

// CodeActionClientCapabilities describe code action support.
type CodeActionClientCapabilities struct {
	CodeActionLiteralSupport *CodeActionLiteralSupport `json:"codeActionLiteralSupport,omitempty"`
}

// CodeActionLiteralSupport declares which code action kinds the client understands.
type CodeActionLiteralSupport struct {
	CodeActionKind CodeActionKindSupport `json:"codeActionKind"`
}

// CodeActionKindSupport lists supported code action kinds.
type CodeActionKindSupport struct {
	ValueSet []CodeActionKind `json:"valueSet"`
}

// PublishDiagnosticsClientCapabilities describe diagnostics support.
type PublishDiagnosticsClientCapabilities struct {
	RelatedInformation bool `json:"relatedInformation"`
	VersionSupport     bool `json:"versionSupport"`
}

// WindowClientCapabilities describe window support.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress"`
}

// ServerCapabilities define capabilities provided by the server. Provider
// fields may be a bool or an options object.
type ServerCapabilities struct {
	TextDocumentSync       any                    `json:"textDocumentSync,omitempty"`
	HoverProvider          any                    `json:"hoverProvider,omitempty"`
	CodeActionProvider     any                    `json:"codeActionProvider,omitempty"`
	CompletionProvider     any                    `json:"completionProvider,omitempty"`
	DefinitionProvider     any                    `json:"definitionProvider,omitempty"`
	ExecuteCommandProvider *ExecuteCommandOptions `json:"executeCommandProvider,omitempty"`
}

// ExecuteCommandOptions lists the commands a server can execute.
type ExecuteCommandOptions struct {
	Commands []string `json:"commands"`
}

// SupportsHover reports whether the server advertised hoverProvider.
func (c ServerCapabilities) SupportsHover() bool {
	return HasCapability(c.HoverProvider)
}

// SupportsCodeActions reports whether the server advertised codeActionProvider.
func (c ServerCapabilities) SupportsCodeActions() bool {
	return HasCapability(c.CodeActionProvider)
}

// HasCapability checks if a capability is enabled (can be bool or object).
func HasCapability(cap any) bool {
	if cap == nil {
		return false
	}
	if v, ok := cap.(bool); ok {
		return v
	}
	return true
}

// DefaultClientCapabilities returns the capabilities the bridge announces.
func DefaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		Workspace: &WorkspaceClientCapabilities{
			ApplyEdit:        false,
			WorkspaceFolders: true,
			Configuration:    true,
			WorkspaceEdit:    &WorkspaceEditClientCapabilities{DocumentChanges: true},
			ExecuteCommand:   &DynamicRegistration{},
		},
		TextDocument: &TextDocumentClientCapabilities{
			Synchronization: &TextDocumentSyncClientCapabilities{},
			Hover: &HoverClientCapabilities{
				ContentFormat: []MarkupKind{MarkupKindMarkdown, MarkupKindPlainText},
			},
			CodeAction: &CodeActionClientCapabilities{
				CodeActionLiteralSupport: &CodeActionLiteralSupport{
					CodeActionKind: CodeActionKindSupport{
						ValueSet: []CodeActionKind{CodeActionKindQuickFix},
					},
				},
			},
			PublishDiagnostics: &PublishDiagnosticsClientCapabilities{
				RelatedInformation: true,
				VersionSupport:     true,
			},
		},
		Window: &WindowClientCapabilities{WorkDoneProgress: true},
	}
}

// --- Document Sync ---

// DidOpenTextDocumentParams are parameters for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams are parameters for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams are parameters for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// --- Hover ---

// HoverParams are parameters for textDocument/hover.
type HoverParams struct {
	TextDocumentPositionParams
}

// Hover represents hover information. Contents is kept raw because servers
// send MarkupContent, a MarkedString, or a MarkedString array.
type Hover struct {
	Contents json.RawMessage `json:"contents"`
	Range    *Range          `json:"range,omitempty"`
}

// --- Diagnostics ---

// PublishDiagnosticsParams are parameters for textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Diagnostic represents a diagnostic (error, warning, info, hint).
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     any                `json:"code,omitempty"` // string or number
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
	Data     any                `json:"data,omitempty"`
}

// DiagnosticSeverity represents the severity of a diagnostic.
type DiagnosticSeverity int

const (
	DiagnosticSeverityError       DiagnosticSeverity = 1
	DiagnosticSeverityWarning     DiagnosticSeverity = 2
	DiagnosticSeverityInformation DiagnosticSeverity = 3
	DiagnosticSeverityHint        DiagnosticSeverity = 4
)

// --- Code Action ---

// CodeActionParams are parameters for textDocument/codeAction.
type CodeActionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Context      CodeActionContext      `json:"context"`
}

// CodeActionContext contains additional information for code action requests.
type CodeActionContext struct {
	Diagnostics []Diagnostic     `json:"diagnostics"`
	Only        []CodeActionKind `json:"only,omitempty"`
}

// CodeAction represents a code action.
type CodeAction struct {
	Title       string         `json:"title"`
	Kind        CodeActionKind `json:"kind,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	IsPreferred bool           `json:"isPreferred,omitempty"`
	Edit        *WorkspaceEdit `json:"edit,omitempty"`
	Command     *Command       `json:"command,omitempty"`
}

// CodeActionKind represents the type of code action.
type CodeActionKind string

const (
	CodeActionKindQuickFix CodeActionKind = "quickfix"
	CodeActionKindRefactor CodeActionKind = "refactor"
	CodeActionKindSource   CodeActionKind = "source"
)

// ParseCodeActionResult decodes a textDocument/codeAction result, which is an
// array mixing Command and CodeAction literals. A bare Command is returned as a
// CodeAction carrying only Title and Command. Entries that fail to decode are skipped.
func ParseCodeActionResult(data json.RawMessage) []CodeAction {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	actions := make([]CodeAction, 0, len(items))
	for _, raw := range items {
		// A Command literal has a string "command"; a CodeAction's is an object.
		if gjson.GetBytes(raw, "command").Type == gjson.String {
			var cmd Command
			if err := json.Unmarshal(raw, &cmd); err != nil {
				continue
			}
			actions = append(actions, CodeAction{Title: cmd.Title, Command: &cmd})
			continue
		}
		var action CodeAction
		if err := json.Unmarshal(raw, &action); err != nil {
			continue
		}
		actions = append(actions, action)
	}
	return actions
}

// --- Workspace ---

// ExecuteCommandParams are parameters for workspace/executeCommand.
type ExecuteCommandParams struct {
	Command   string `json:"command"`
	Arguments []any  `json:"arguments,omitempty"`
}

// ConfigurationItem is one section requested by workspace/configuration.
type ConfigurationItem struct {
	ScopeURI string `json:"scopeUri,omitempty"`
	Section  string `json:"section,omitempty"`
}

// ConfigurationParams are parameters for workspace/configuration.
type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

// ApplyWorkspaceEditResult answers workspace/applyEdit.
type ApplyWorkspaceEditResult struct {
	Applied       bool   `json:"applied"`
	FailureReason string `json:"failureReason,omitempty"`
}

// LogMessageParams are parameters for window/logMessage and window/showMessage.
type LogMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// --- Language IDs ---

var extensionLanguageIDs = map[string]string{
	"tex":      "latex",
	"latex":    "latex",
	"ltx":      "latex",
	"sty":      "latex",
	"cls":      "latex",
	"dtx":      "latex",
	"bib":      "bibtex",
	"typ":      "typst",
	"md":       "markdown",
	"markdown": "markdown",
	"json":     "json",
	"yaml":     "yaml",
	"yml":      "yaml",
	"toml":     "toml",
	"xml":      "xml",
	"html":     "html",
	"htm":      "html",
	"css":      "css",
	"js":       "javascript",
	"ts":       "typescript",
	"py":       "python",
	"go":       "go",
	"lua":      "lua",
	"sh":       "shellscript",
	"bash":     "shellscript",
	"txt":      "plaintext",
}

// FileExtension returns the lowercased extension of fileName without the dot.
func FileExtension(fileName string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
}

// DetectLanguageID returns the built-in LSP language ID for a file name,
// or "plaintext" when the extension is unknown.
func DetectLanguageID(fileName string) string {
	if id, ok := extensionLanguageIDs[FileExtension(fileName)]; ok {
		return id
	}
	return "plaintext"
}
