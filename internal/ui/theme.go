// Package ui provides terminal output styling for the xpl commands
package ui

import (
	"os"

	"golang.org/x/term"
)

// ANSI color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Dim     = "\033[2m"
	Cyan    = "\033[36m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Red     = "\033[31m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
)

// Box drawing characters
const (
	BoxTopLeft     = "╭"
	BoxTopRight    = "╮"
	BoxBottomLeft  = "╰"
	BoxBottomRight = "╯"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
)

var colorEnabled = true

func init() {
	// https://no-color.org/
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		colorEnabled = false
	}
}

// SetNoColor disables color output
func SetNoColor(disable bool) {
	if disable {
		colorEnabled = false
	}
}

// SetColor forces color output on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

// IsColorEnabled returns whether color output is enabled
func IsColorEnabled() bool {
	return colorEnabled
}

// Color wraps text with an ANSI color code
func Color(code, text string) string {
	if !colorEnabled {
		return text
	}
	return code + text + Reset
}
