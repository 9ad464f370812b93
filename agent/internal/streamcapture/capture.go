// Package streamcapture turns raw child-process stdout/stderr bytes into
// terminal:output chunks: ANSI CSI sequences are extracted into a separate
// field, control characters are stripped, complete lines are clamped to a
// maximum chunk size, and partial lines are flushed on a fixed cadence or on
// buffer overflow so a long-running command without trailing newlines still
// streams promptly.
package streamcapture

import (
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"

	"github.com/onsembl/onsembl/shared/types"
)

// MaxChunkBytes is the maximum size of a single emitted chunk's data field.
// Lines longer than this are split across multiple chunks.
const MaxChunkBytes = 10000

// FlushInterval is how often a non-empty partial buffer is flushed even if
// it has not yet accumulated a complete line.
const FlushInterval = 100 * time.Millisecond

// OverflowBytes is the buffer size at which a partial line is force-flushed
// regardless of the flush cadence.
const OverflowBytes = 8 * 1024

// csiPattern matches one ANSI CSI escape sequence: ESC '[' parameter bytes
// then a single final byte in the 0x40-0x7E range.
var csiPattern = regexp.MustCompile("\x1b\\[[0-9;?]*[\x40-\x7e]")

// Chunk is one emitted unit of output, ready to be embedded (with
// commandId/agentId/sequence filled in by the caller) into a
// protocol.TerminalOutput frame.
type Chunk struct {
	Data      string
	AnsiCodes string
	IsBlank   bool
	IsBinary  bool
}

// Capturer buffers bytes from a single stream (stdout or stderr) and emits
// Chunks as complete lines accumulate, on a flush timer, or on overflow.
type Capturer struct {
	Stream types.OutputStream
	Emit   func(Chunk)

	buf      []byte
	timer    *time.Timer
	stopOnce chan struct{}
}

// New constructs a Capturer for one stream. emit is called synchronously
// from Write and from the flush goroutine — it must not block.
func New(stream types.OutputStream, emit func(Chunk)) *Capturer {
	return &Capturer{
		Stream:   stream,
		Emit:     emit,
		stopOnce: make(chan struct{}),
	}
}

// Write implements io.Writer, appending p to the internal buffer and
// flushing any complete lines it contains. CRLF is normalized to LF before
// scanning.
func (c *Capturer) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	c.drainLines()
	if len(c.buf) >= OverflowBytes {
		c.flushPartial()
	}
	return len(p), nil
}

// drainLines extracts and emits every complete line currently in the
// buffer, leaving any trailing partial line behind.
func (c *Capturer) drainLines() {
	for {
		idx := indexByte(c.buf, '\n')
		if idx < 0 {
			return
		}
		line := c.buf[:idx]
		c.buf = c.buf[idx+1:]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		line = normalizeCRLF(line)
		c.emitLine(line)
	}
}

// RunFlushLoop periodically flushes a non-empty partial line. It blocks
// until stop is closed, so the caller should run it on its own goroutine
// for the lifetime of the child process.
func (c *Capturer) RunFlushLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			c.Close()
			return
		case <-ticker.C:
			if len(c.buf) > 0 {
				c.flushPartial()
			}
		}
	}
}

// Close flushes any remaining partial line. Call after the child's stream
// has been fully read (EOF).
func (c *Capturer) Close() {
	if len(c.buf) > 0 {
		c.flushPartial()
	}
}

func (c *Capturer) flushPartial() {
	line := normalizeCRLF(c.buf)
	c.buf = nil
	c.emitLine(line)
}

// emitLine strips and extracts ANSI sequences, removes disallowed control
// characters, applies the binary heuristic, and emits one or more Chunks
// clamped to MaxChunkBytes.
func (c *Capturer) emitLine(line []byte) {
	isBinary := looksBinary(line)

	codes := extractCSI(line)
	clean := ansi.Strip(string(line))
	clean = stripControlChars(clean)

	isBlank := len(stripSpace(clean)) == 0

	emitted := false
	for len(clean) > 0 {
		cut := MaxChunkBytes
		if cut > len(clean) {
			cut = len(clean)
		}
		// Avoid splitting a multi-byte rune across chunks.
		for cut > 0 && cut < len(clean) && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		c.Emit(Chunk{
			Data:      clean[:cut],
			AnsiCodes: codes,
			IsBlank:   isBlank,
			IsBinary:  isBinary,
		})
		emitted = true
		clean = clean[cut:]
		codes = "" // only the first chunk of a split line carries the codes
	}

	if !emitted {
		// Blank line, or a line of only ANSI codes with no visible text.
		c.Emit(Chunk{AnsiCodes: codes, IsBlank: true, IsBinary: isBinary})
	}
}

// extractCSI returns every CSI sequence found in line, concatenated in
// order of appearance.
func extractCSI(line []byte) string {
	matches := csiPattern.FindAll(line, -1)
	if len(matches) == 0 {
		return ""
	}
	var out []byte
	for _, m := range matches {
		out = append(out, m...)
	}
	return string(out)
}

// stripControlChars removes null bytes and control characters other than
// TAB, LF and CR.
func stripControlChars(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == '\t' || b == '\n' || b == '\r' || b >= 0x20 {
			out = append(out, b)
		}
	}
	return string(out)
}

// looksBinary applies the binary-content heuristic over the first 1024
// bytes: any null byte, or at least 30% non-printable bytes.
func looksBinary(line []byte) bool {
	sample := line
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	if len(sample) == 0 {
		return false
	}
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) >= 0.3
}

func stripSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func normalizeCRLF(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n' {
			continue
		}
		out = append(out, b[i])
	}
	return out
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
