package editor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/lspbridge/internal/logging"
	"github.com/dshills/lspbridge/internal/lsp"
)

// HoverAggregator asks every matching server with hoverProvider for hover
// text at a position and shows the merged result.
//
// Each call takes a new generation number. Only a call whose generation is
// still the latest when its servers answer reaches the tooltip, so the tooltip
// reflects the most recently issued request, not the most recently resolved.
type HoverAggregator struct {
	src     Source
	doc     Document
	tooltip Tooltip

	gen    atomic.Uint64
	showMu sync.Mutex

	log     *logging.Logger
	timeout time.Duration
}

// NewHoverAggregator creates an aggregator for doc.
func NewHoverAggregator(src Source, doc Document, tooltip Tooltip, opts ...Option) *HoverAggregator {
	o := buildOptions(opts)
	return &HoverAggregator{
		src:     src,
		doc:     doc,
		tooltip: tooltip,
		log:     o.log.WithComponent("hover").WithField("file", doc.FileName()),
		timeout: o.requestTimeout,
	}
}

// Hover collects hover sections at offset and shows them. When no server has
// anything to say the tooltip is hidden. A call overtaken by a newer one
// returns ErrStale and leaves the tooltip alone.
func (h *HoverAggregator) Hover(ctx context.Context, offset int) ([]string, error) {
	gen := h.gen.Add(1)

	fileName := h.doc.FileName()
	pos := lsp.NewPositionConverter(h.doc.Text()).ByteOffsetToPosition(offset)
	params := lsp.HoverParams{
		TextDocumentPositionParams: lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: lsp.DocumentURIFor(fileName)},
			Position:     pos,
		},
	}

	servers := lo.Filter(h.src.AllClientsForFile(fileName), func(sc lsp.ServerClient, _ int) bool {
		return sc.Client.Capabilities().SupportsHover()
	})
	results := make([]string, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range servers {
		i, sc := i, sc
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, h.timeout)
			defer cancel()

			var hv *lsp.Hover
			if err := sc.Client.Request(rctx, lsp.MethodHover, params, &hv); err != nil {
				logRequestError(h.log, lsp.MethodHover, sc.ID, err)
				return nil
			}
			if hv != nil {
				results[i] = HoverText(hv.Contents)
			}
			return nil
		})
	}
	_ = g.Wait()

	sections := lo.Uniq(lo.Filter(results, func(s string, _ int) bool { return s != "" }))

	h.showMu.Lock()
	defer h.showMu.Unlock()
	if h.gen.Load() != gen {
		return nil, ErrStale
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		h.tooltip.Hide()
		return sections, nil
	}
	h.tooltip.ShowHover(offset, sections)
	return sections, nil
}

// HoverText flattens hover contents to trimmed text. It accepts a plain
// string, MarkupContent, a MarkedString object or an array of those.
func HoverText(contents json.RawMessage) string {
	return strings.TrimSpace(markedText(gjson.ParseBytes(contents)))
}

func markedText(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return strings.TrimSpace(v.Str)
	case v.IsArray():
		var parts []string
		v.ForEach(func(_, item gjson.Result) bool {
			if s := markedText(item); s != "" {
				parts = append(parts, s)
			}
			return true
		})
		return strings.Join(parts, "\n\n")
	case v.IsObject():
		return strings.TrimSpace(v.Get("value").String())
	default:
		return ""
	}
}
