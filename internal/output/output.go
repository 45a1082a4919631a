// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer. Color is enabled only when the destination is
// an interactive terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: IsTTY(out) && !noColor(),
	}
}

// IsTTY checks if the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

func noColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

const (
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiDim    = "\033[2m"
	ansiReset  = "\033[0m"
)

func (w *Writer) colored(color, msg string) string {
	if !w.useColor {
		return msg
	}
	return color + msg + ansiReset
}

// Printf writes a plain formatted line.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.colored(ansiGreen, fmt.Sprintf(format, args...)))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.colored(ansiYellow, fmt.Sprintf(format, args...)))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.colored(ansiRed, fmt.Sprintf(format, args...)))
}

// Dimf prints a formatted secondary detail line.
func (w *Writer) Dimf(format string, args ...any) {
	_, _ = fmt.Fprintln(w.out, w.colored(ansiDim, fmt.Sprintf(format, args...)))
}
