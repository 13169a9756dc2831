package lsp

import "strings"

// PositionConverter translates between byte offsets in a document and LSP
// positions (zero-based line, UTF-16 character). Out-of-range positions are
// clamped: the line to [0, LineCount()-1] and the character to the line length,
// so positions that went stale after a concurrent edit still map to a valid offset.
type PositionConverter struct {
	content string
	lines   []lineSpan
}

// lineSpan is the byte range of one line, excluding its terminator.
type lineSpan struct {
	start int
	end   int
}

// NewPositionConverter creates a new converter for the given content.
func NewPositionConverter(content string) *PositionConverter {
	pc := &PositionConverter{content: content}
	start := 0
	for {
		i := strings.IndexByte(content[start:], '\n')
		if i < 0 {
			break
		}
		end := start + i
		lineEnd := end
		if lineEnd > start && content[lineEnd-1] == '\r' {
			lineEnd--
		}
		pc.lines = append(pc.lines, lineSpan{start: start, end: lineEnd})
		start = end + 1
	}
	pc.lines = append(pc.lines, lineSpan{start: start, end: len(content)})
	return pc
}

// LineCount returns the number of lines. An empty document has one line.
func (pc *PositionConverter) LineCount() int {
	return len(pc.lines)
}

// Len returns the document length in bytes.
func (pc *PositionConverter) Len() int {
	return len(pc.content)
}

// LineContent returns the content of a line (excluding the terminator).
func (pc *PositionConverter) LineContent(line int) string {
	if line < 0 || line >= len(pc.lines) {
		return ""
	}
	l := pc.lines[line]
	return pc.content[l.start:l.end]
}

// PositionToByteOffset converts an LSP Position to a byte offset, clamping
// the line and character into the document.
func (pc *PositionConverter) PositionToByteOffset(pos Position) int {
	line := pos.Line
	if line < 0 {
		line = 0
	}
	if line > len(pc.lines)-1 {
		line = len(pc.lines) - 1
	}
	l := pc.lines[line]
	return l.start + utf16ToByteOffset(pc.content[l.start:l.end], pos.Character)
}

// ByteOffsetToPosition converts a byte offset to an LSP Position.
func (pc *PositionConverter) ByteOffsetToPosition(offset int) Position {
	if offset <= 0 {
		return Position{}
	}
	if offset > len(pc.content) {
		offset = len(pc.content)
	}
	// Binary search for the last line starting at or before offset.
	lo, hi := 0, len(pc.lines)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if pc.lines[mid].start <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	l := pc.lines[lo]
	within := offset - l.start
	if within > l.end-l.start {
		within = l.end - l.start
	}
	return Position{Line: lo, Character: byteToUTF16Offset(pc.content[l.start:l.end], within)}
}

// RangeToByteOffsets converts an LSP Range to start and end byte offsets.
// The end is never before the start.
func (pc *PositionConverter) RangeToByteOffsets(rng Range) (start, end int) {
	start = pc.PositionToByteOffset(rng.Start)
	end = pc.PositionToByteOffset(rng.End)
	if end < start {
		end = start
	}
	return start, end
}

// --- UTF-16 conversion helpers ---

func utf16Width(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// byteToUTF16Offset converts a byte offset within s to a UTF-16 offset.
func byteToUTF16Offset(s string, byteOff int) int {
	n := 0
	for i, r := range s {
		if i >= byteOff {
			break
		}
		n += utf16Width(r)
	}
	return n
}

// utf16ToByteOffset converts a UTF-16 offset within s to a byte offset,
// clamping to len(s).
func utf16ToByteOffset(s string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}
	n := 0
	for i, r := range s {
		if n >= utf16Off {
			return i
		}
		n += utf16Width(r)
	}
	return len(s)
}
