package ui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edgecli/xplnet/internal/registry"
	"github.com/edgecli/xplnet/internal/xpl"
)

const panelWidth = 64

// Field is one label/value line of a panel.
type Field struct {
	Label string
	Value string
}

// RenderPanel draws a titled box with one line per field.
func RenderPanel(title string, fields []Field) string {
	var sb strings.Builder

	titleText := " " + title + " "
	leftDashes := 3
	rightDashes := panelWidth - 2 - leftDashes - utf8.RuneCountInString(titleText)
	if rightDashes < 0 {
		rightDashes = 0
	}
	sb.WriteString(Color(Cyan, BoxTopLeft+strings.Repeat(BoxHorizontal, leftDashes)))
	sb.WriteString(Color(Cyan+Bold, titleText))
	sb.WriteString(Color(Cyan, strings.Repeat(BoxHorizontal, rightDashes)+BoxTopRight))
	sb.WriteString("\n")

	for _, f := range fields {
		sb.WriteString(formatInfoLine(f.Label, f.Value, panelWidth))
	}

	sb.WriteString(Color(Cyan, BoxBottomLeft+strings.Repeat(BoxHorizontal, panelWidth-2)+BoxBottomRight))
	sb.WriteString("\n")
	return sb.String()
}

func formatInfoLine(label, value string, width int) string {
	var sb strings.Builder

	// " label: value"
	visibleLen := utf8.RuneCountInString(label) + utf8.RuneCountInString(value) + 3
	padding := width - 2 - visibleLen
	if padding < 0 {
		padding = 0
	}

	sb.WriteString(Color(Cyan, BoxVertical))
	sb.WriteString(" ")
	sb.WriteString(Color(Dim, label+":"))
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString(strings.Repeat(" ", padding))
	sb.WriteString(Color(Cyan, BoxVertical))
	sb.WriteString("\n")
	return sb.String()
}

func typeColor(t xpl.MessageType) string {
	switch t {
	case xpl.Command:
		return Yellow
	case xpl.Trigger:
		return Magenta
	default:
		return Green
	}
}

// RenderMessage formats msg as one monitor line.
func RenderMessage(at time.Time, from string, msg *xpl.Message) string {
	var sb strings.Builder
	sb.WriteString(Color(Dim, at.Format("15:04:05")))
	sb.WriteString(" ")
	sb.WriteString(Color(typeColor(msg.Type)+Bold, msg.Type.String()))
	fmt.Fprintf(&sb, " %s -> %s ", msg.Source, msg.Target)
	sb.WriteString(Color(Cyan, msg.Schema.String()))
	if msg.Hop > 1 {
		sb.WriteString(Color(Dim, fmt.Sprintf(" hop=%d", msg.Hop)))
	}
	if from != "" {
		sb.WriteString(Color(Dim, " ("+from+")"))
	}
	for _, nv := range msg.Body {
		fmt.Fprintf(&sb, " %s=%s", Color(Dim, nv.Name), nv.Value)
	}
	return sb.String()
}

// RenderClients formats the hub peer table.
func RenderClients(now time.Time, clients []registry.Client) string {
	if len(clients) == 0 {
		return Color(Dim, "no peers") + "\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-30s %-22s %9s %9s\n", "PEER", "ADDRESS", "INTERVAL", "SILENT")
	for _, c := range clients {
		silent := now.Sub(c.LastHeard).Truncate(time.Second)
		line := fmt.Sprintf("%-30s %-22s %9s %9s", c.Address, c.TransportAddr, c.Interval, silent)
		if silent > c.Interval {
			line = Color(Yellow, line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderError formats an error message
func RenderError(err error) string {
	return Color(Red, fmt.Sprintf("Error: %v", err))
}

// RenderSuccess formats a success message
func RenderSuccess(msg string) string {
	return Color(Green, msg)
}

// RenderDim formats text in dim style
func RenderDim(msg string) string {
	return Color(Dim, msg)
}
