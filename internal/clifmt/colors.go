package clifmt

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiDim    = "\x1b[2m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

var colorEnabled = detectColor()

func detectColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func colorize(code, s string) string {
	if !colorEnabled || s == "" {
		return s
	}
	return code + s + ansiReset
}

// Headerf formats a section header line.
func Headerf(format string, args ...any) string {
	return colorize(ansiBold, fmt.Sprintf(format, args...))
}

// Key styles column headers and key labels.
func Key(s string) string { return colorize(ansiCyan, s) }

// Success styles a positive value.
func Success(s string) string { return colorize(ansiGreen, s) }

// Warn styles a cautionary value.
func Warn(s string) string { return colorize(ansiYellow, s) }

// Dim styles secondary detail.
func Dim(s string) string { return colorize(ansiDim, s) }
