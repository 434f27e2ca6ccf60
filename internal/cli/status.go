package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// colorEnabled reports whether stdout is a terminal, matching the teacher's
// habit of checking isatty before emitting ANSI codes rather than always
// coloring or gating behind a flag.
var colorEnabled = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

const (
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

// statusLine formats a one-line command result, colored green/yellow when
// stdout is a terminal and plain otherwise so piped output stays clean.
func statusLine(ok bool, format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	if !colorEnabled {
		return msg
	}
	color := ansiGreen
	if !ok {
		color = ansiYellow
	}
	return color + msg + ansiReset
}
