package terminal

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/feltdbg/feltdbg/pkg/terminal/colorize"
)

// transcriptWriter writes to a pagingWriter and also, optionally, to a
// buffered file.
type transcriptWriter struct {
	fileOnly     bool
	pw           *pagingWriter
	file         *bufio.Writer
	fh           io.Closer
	colorEscapes map[colorize.Style]string
	altTabString string
}

func (w *transcriptWriter) Write(p []byte) (nn int, err error) {
	if !w.fileOnly {
		nn, err = w.pw.Write(p)
	}
	if err == nil {
		if w.file != nil {
			return w.file.Write(p)
		}
	}
	return
}

// ColorizePrint prints a syntax highlighted version of a fragment of the
// source file path, starting at line firstLine. The transcript file gets
// the text without escape codes.
func (w *transcriptWriter) ColorizePrint(path string, firstLine int, text []byte, arrowLine int) {
	if !w.fileOnly {
		colorize.PrintLines(w.pw.w, path, firstLine, text, arrowLine, w.colorEscapes, w.altTabString)
	}
	if w.file != nil {
		colorize.PrintLines(w.file, path, firstLine, text, arrowLine, nil, w.altTabString)
	}
}

// Echo outputs str only to the optional transcript file.
func (w *transcriptWriter) Echo(str string) {
	if w.file != nil {
		w.file.WriteString(str)
	}
}

// Flush flushes the optional transcript file.
func (w *transcriptWriter) Flush() {
	if w.file != nil {
		w.file.Flush()
	}
}

// CloseTranscript closes the optional transcript file.
func (w *transcriptWriter) CloseTranscript() error {
	if w.file == nil {
		return nil
	}
	w.file.Flush()
	w.fileOnly = false
	err := w.fh.Close()
	w.file = nil
	w.fh = nil
	return err
}

// TranscribeTo starts transcribing the output to the specified file. If
// fileOnly is true the output will only go to the file, output to the
// io.Writer will be suppressed.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	if w.file != nil {
		w.CloseTranscript()
	}
	w.fh = fh
	w.file = bufio.NewWriter(fh)
	w.fileOnly = fileOnly
}

// pagingWriter writes to w. After PageMaybe it holds back output and,
// once more than a screenful has been written, pipes everything to a pager.
type pagingWriter struct {
	mode   pagingWriterMode
	w      io.Writer
	buf    []byte
	pager  *exec.Cmd
	pipe   io.WriteCloser
	lastnl bool
	cancel func()

	lines, columns int
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if w.fitsScreen() {
			if len(p) > 0 {
				w.lastnl = p[len(p)-1] == '\n'
			}
			return w.w.Write(p)
		}
		if !w.startPager() {
			w.mode = pagingWriterNormal
			return w.w.Write(p)
		}
		return len(p), nil
	case pagingWriterPaging:
		n, err := w.pipe.Write(p)
		if err != nil && w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		return n, err
	default:
		return w.w.Write(p)
	}
}

// startPager starts the pager and sends it everything buffered so far.
func (w *pagingWriter) startPager() bool {
	cmd := exec.Command(w.pagerCommand())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	pipe, err := cmd.StdinPipe()
	if err != nil {
		return false
	}
	if err := cmd.Start(); err != nil {
		return false
	}
	w.pager, w.pipe = cmd, pipe
	if !w.lastnl {
		io.WriteString(w.w, "\n")
	}
	io.WriteString(w.w, "Sending output to pager...\n")
	w.pipe.Write(w.buf)
	w.buf = nil
	w.mode = pagingWriterPaging
	return true
}

func (w *pagingWriter) pagerCommand() string {
	for _, env := range []string{"FELTDBG_PAGER", "PAGER"} {
		if pager := os.Getenv(env); pager != "" {
			return pager
		}
	}
	return "more"
}

// Reset returns the pagingWriter to its normal mode, waiting for the pager
// to exit.
func (w *pagingWriter) Reset() {
	w.mode = pagingWriterNormal
	w.buf = nil
	if w.pager == nil {
		return
	}
	w.pipe.Close()
	w.pager.Wait()
	w.pager, w.pipe = nil, nil
}

// PageMaybe makes the writer switch to a pager if the output of the current
// command turns out to be large. Paging is only done on a terminal, unless
// FELTDBG_PAGER is set. cancel is called the first time a write to the
// pager fails.
func (w *pagingWriter) PageMaybe(cancel func()) {
	if w.mode != pagingWriterNormal {
		return
	}
	if os.Getenv("FELTDBG_PAGER") == "" {
		if f, ok := w.w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
			return
		}
		if strings.EqualFold(os.Getenv("TERM"), "dumb") {
			return
		}
	}
	w.mode = pagingWriterMaybe
	w.lastnl = true
	w.cancel = cancel
	w.getWindowSize()
}

// fitsScreen reports whether the buffered output fits the terminal window,
// counting wrapped lines.
func (w *pagingWriter) fitsScreen() bool {
	lines, col := 0, 0
	for _, c := range w.buf {
		col++
		if c == '\n' || col > w.columns {
			lines++
			col = 0
		}
		if lines > w.lines {
			return false
		}
	}
	return true
}
