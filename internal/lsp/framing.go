package lsp

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
)

var headerSeparator = []byte("\r\n\r\n")

// EncodeFrame wraps body in an LSP base-protocol header. The announced length
// is the UTF-8 byte length of body.
func EncodeFrame(body []byte) []byte {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	return append(out, body...)
}

// FrameDecoder reassembles Content-Length framed messages from arbitrarily
// split chunks. Partial frames stay buffered until the rest arrives; a split
// inside a multi-byte UTF-8 sequence is harmless because lengths are bytes.
type FrameDecoder struct {
	mu  sync.Mutex
	buf []byte
}

// Feed appends chunk to the buffer and returns every complete message body,
// in arrival order. Headers without a usable Content-Length are skipped.
func (d *FrameDecoder) Feed(chunk []byte) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, chunk...)

	var msgs [][]byte
	consumed := 0
	for {
		rest := d.buf[consumed:]
		idx := bytes.Index(rest, headerSeparator)
		if idx < 0 {
			break
		}
		bodyStart := idx + len(headerSeparator)
		length, ok := parseContentLength(rest[:idx])
		if !ok {
			consumed += bodyStart
			continue
		}
		if len(rest)-bodyStart < length {
			break
		}
		msg := make([]byte, length)
		copy(msg, rest[bodyStart:bodyStart+length])
		msgs = append(msgs, msg)
		consumed += bodyStart + length
	}

	if consumed > 0 {
		d.buf = append([]byte(nil), d.buf[consumed:]...)
	}
	return msgs
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *FrameDecoder) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// Reset drops any partially received frame.
func (d *FrameDecoder) Reset() {
	d.mu.Lock()
	d.buf = nil
	d.mu.Unlock()
}

// parseContentLength reads the Content-Length value from a header block.
// Other headers such as Content-Type are ignored.
func parseContentLength(header []byte) (int, bool) {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
