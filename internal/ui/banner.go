package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASCII ART BANNER
// ══════════════════════════════════════════════════════════════════════════════

// PrintBanner displays the ASCII art startup banner.
func PrintBanner(w io.Writer, version string) {
	if w == nil {
		w = color.Output
	}

	cyan := color.New(color.FgCyan, color.Bold)
	magenta := color.New(color.FgMagenta, color.Bold)
	hiCyan := color.New(color.FgHiCyan)
	yellow := color.New(color.FgYellow, color.Bold)
	white := color.New(color.FgWhite)
	dim := color.New(color.FgHiBlack)

	art := []string{
		" ██████╗  █████╗ ███╗   ██╗██████╗  █████╗ ██╗     ███████╗",
		"██╔════╝ ██╔══██╗████╗  ██║██╔══██╗██╔══██╗██║     ██╔════╝",
		"██║  ███╗███████║██╔██╗ ██║██║  ██║███████║██║     █████╗  ",
		"██║   ██║██╔══██║██║╚██╗██║██║  ██║██╔══██║██║     ██╔══╝  ",
		"╚██████╔╝██║  ██║██║ ╚████║██████╔╝██║  ██║███████╗██║     ",
		" ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═══╝╚═════╝ ╚═╝  ╚═╝╚══════╝╚═╝     ",
	}

	fmt.Fprintln(w)
	cyan.Fprintln(w, "╔══════════════════════════════════════════════════════════════════╗")
	for i, line := range art {
		cyan.Fprint(w, "║   ")
		if i%2 == 0 {
			hiCyan.Fprint(w, line)
		} else {
			magenta.Fprint(w, line)
		}
		cyan.Fprintln(w, "    ║")
	}
	cyan.Fprintln(w, "╠══════════════════════════════════════════════════════════════════╣")

	cyan.Fprint(w, "║  ")
	yellow.Fprint(w, "🧙 LLM FAILOVER ROUTER")
	dim.Fprint(w, "  │  ")
	white.Fprintf(w, "%-36s", version)
	cyan.Fprintln(w, "║")

	cyan.Fprintln(w, "╚══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
}
