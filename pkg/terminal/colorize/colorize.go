// Package colorize highlights assembly source for listings.
package colorize

import (
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"
)

// Style describes the style of a chunk of text.
type Style uint8

const (
	NormalStyle Style = iota
	KeywordStyle
	StringStyle
	NumberStyle
	CommentStyle
	LineNoStyle
	ArrowStyle
	TabStyle
)

// keywords start the structure of a module, control flow and calls. The
// keyword is the part of an instruction before the first dot.
var keywords = map[string]bool{
	"begin":  true,
	"end":    true,
	"proc":   true,
	"export": true,
	"use":    true,
	"if":     true,
	"else":   true,
	"while":  true,
	"repeat": true,
	"exec":   true,
	"call":   true,
	"var":    true,
}

// Print prints to out a syntax highlighted version of the text read from
// reader, between lines startLine and endLine.
func Print(out io.Writer, path string, reader io.Reader, startLine, endLine, arrowLine int, colorEscapes map[Style]string, altTabStr string) error {
	buf, err := ioutil.ReadAll(reader)
	if err != nil {
		return err
	}
	w := newLineWriter(out, startLine, endLine, arrowLine, colorEscapes, altTabStr)
	highlight(w, path, buf)
	return nil
}

// PrintLines prints a fragment of a file whose first line is firstLine.
// Every line of the fragment is printed.
func PrintLines(out io.Writer, path string, firstLine int, text []byte, arrowLine int, colorEscapes map[Style]string, altTabStr string) {
	if firstLine < 1 {
		firstLine = 1
	}
	w := newLineWriter(out, firstLine, math.MaxInt32, arrowLine, colorEscapes, altTabStr)
	w.lineno = firstLine - 1
	highlight(w, path, text)
}

func newLineWriter(out io.Writer, startLine, endLine, arrowLine int, colorEscapes map[Style]string, altTabStr string) *lineWriter {
	w := &lineWriter{
		w:            out,
		lineRange:    [2]int{startLine, endLine},
		arrowLine:    arrowLine,
		colorEscapes: colorEscapes,
	}
	if len(altTabStr) > 0 {
		w.tabBytes = []byte(altTabStr)
	} else {
		w.tabBytes = []byte("\t")
	}
	return w
}

func highlight(w *lineWriter, path string, buf []byte) {
	if filepath.Ext(path) != ".masm" {
		w.Write(NormalStyle, buf, true)
		return
	}

	flush := func(start, end int, style Style) {
		if start < end {
			w.Write(style, buf[start:end], end == len(buf))
		}
	}

	cur := 0
	for _, tok := range tokenize(buf) {
		flush(cur, tok.start, NormalStyle)
		flush(tok.start, tok.end, tok.style)
		cur = tok.end
	}
	if cur != len(buf) {
		flush(cur, len(buf), NormalStyle)
	}
}

type colorTok struct {
	style      Style
	start, end int
}

// tokenize returns the highlighted chunks of buf in order. Instructions
// are split on dots: a leading keyword and numeric immediates are
// highlighted, for example both parts of "repeat.4".
func tokenize(buf []byte) []colorTok {
	var toks []colorTok
	i := 0
	for i < len(buf) {
		switch c := buf[i]; {
		case c == '#':
			start := i
			for i < len(buf) && buf[i] != '\n' {
				i++
			}
			toks = append(toks, colorTok{CommentStyle, start, i})
		case c == '"':
			start := i
			i++
			for i < len(buf) && buf[i] != '"' && buf[i] != '\n' {
				i++
			}
			if i < len(buf) && buf[i] == '"' {
				i++
			}
			toks = append(toks, colorTok{StringStyle, start, i})
		case isSpace(c):
			i++
		default:
			start := i
			for i < len(buf) && !isSpace(buf[i]) && buf[i] != '#' {
				i++
			}
			toks = append(toks, wordTokens(string(buf[start:i]), start)...)
		}
	}
	return toks
}

func wordTokens(word string, off int) []colorTok {
	var toks []colorTok
	parts := strings.Split(word, ".")
	pos := off
	for i, part := range parts {
		switch {
		case i == 0 && keywords[part]:
			toks = append(toks, colorTok{KeywordStyle, pos, pos + len(part)})
		case i > 0 && isNumber(part):
			toks = append(toks, colorTok{NumberStyle, pos, pos + len(part)})
		}
		pos += len(part) + 1
	}
	return toks
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNumber(s string) bool {
	if strings.HasPrefix(s, "0x") && len(s) > 2 {
		s = s[2:]
		for _, c := range s {
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
				return false
			}
		}
		return true
	}
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type lineWriter struct {
	w         io.Writer
	lineRange [2]int
	arrowLine int

	curStyle Style
	started  bool
	lineno   int

	colorEscapes map[Style]string

	tabBytes []byte
}

func (w *lineWriter) style(style Style) {
	if w.colorEscapes == nil {
		return
	}
	esc := w.colorEscapes[style]
	if esc == "" {
		esc = w.colorEscapes[NormalStyle]
	}
	fmt.Fprintf(w.w, "%s", esc)
}

func (w *lineWriter) inrange() bool {
	lno := w.lineno
	if !w.started {
		lno = w.lineno + 1
	}
	return lno >= w.lineRange[0] && lno < w.lineRange[1]
}

func (w *lineWriter) nl() {
	w.lineno++
	if !w.inrange() || !w.started {
		return
	}
	w.style(ArrowStyle)
	if w.lineno == w.arrowLine {
		fmt.Fprintf(w.w, "=>")
	} else {
		fmt.Fprintf(w.w, "  ")
	}
	w.style(LineNoStyle)
	fmt.Fprintf(w.w, "%4d:\t", w.lineno)
	w.style(w.curStyle)
}

func (w *lineWriter) writeInternal(style Style, data []byte) {
	if !w.inrange() {
		return
	}

	if !w.started {
		w.started = true
		w.curStyle = style
		w.nl()
	} else if w.curStyle != style {
		w.curStyle = style
		w.style(w.curStyle)
	}

	w.w.Write(data)
}

func (w *lineWriter) Write(style Style, data []byte, last bool) {
	cur := 0
	for i := range data {
		switch data[i] {
		case '\n':
			if last && i == len(data)-1 {
				w.writeInternal(style, data[cur:i])
				if w.curStyle != NormalStyle {
					w.style(NormalStyle)
				}
				if w.inrange() {
					w.w.Write([]byte{'\n'})
				}
				last = false
			} else {
				w.writeInternal(style, data[cur:i+1])
				w.nl()
			}
			cur = i + 1
		case '\t':
			w.writeInternal(style, data[cur:i])
			w.writeInternal(TabStyle, w.tabBytes)
			cur = i + 1
		}
	}
	if cur < len(data) {
		w.writeInternal(style, data[cur:])
	}
	if last {
		if w.curStyle != NormalStyle {
			w.style(NormalStyle)
		}
		if w.inrange() {
			w.w.Write([]byte{'\n'})
		}
	}
}
