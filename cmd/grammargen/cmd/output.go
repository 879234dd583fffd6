package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/corey/grammargen/internal/app"
	"github.com/corey/grammargen/internal/config"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// paint wraps s in an ANSI color when color output is on.
func paint(color bool, code, s string) string {
	if !color {
		return s
	}
	return code + s + colorReset
}

// formatResult renders the one-line pass summary plus a line per job.
//
//	⚡ 3 grammars → grammars/grammars_gen.go │ 2 compiled, 1 unchanged │ 1.2s
//	  parser_c      3 units
//	  scanner_c     1 unit   (unchanged)
func formatResult(res *app.Result, paths *config.Paths, color bool) string {
	var sb strings.Builder

	output := paths.Output
	if rel, err := filepath.Rel(paths.Root, output); err == nil {
		output = rel
	}
	compiled, unchanged := 0, 0
	for _, jr := range res.Compile.Jobs {
		if jr.Skipped {
			unchanged++
		} else {
			compiled++
		}
	}
	state := "written"
	if !res.Changed {
		state = "up to date"
	}

	sb.WriteString(fmt.Sprintf("%s → %s %s │ %d compiled, %d unchanged │ %s\n",
		paint(color, colorBold, fmt.Sprintf("⚡ %d grammars", len(res.Packages))),
		paint(color, colorCyan, filepath.ToSlash(output)),
		paint(color, colorGray, "("+state+")"),
		compiled, unchanged, res.Elapsed.Round(time.Millisecond)))

	for _, jr := range res.Compile.Jobs {
		unit := "units"
		if jr.Files == 1 {
			unit = "unit"
		}
		line := fmt.Sprintf("  %-12s %3d %-5s", jr.Kind, jr.Files, unit)
		if jr.Skipped {
			line += " " + paint(color, colorGray, "(unchanged)")
		}
		sb.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	if n := len(res.Compile.Shared); n > 0 {
		sb.WriteString(fmt.Sprintf("  %s\n", paint(color, colorGreen, fmt.Sprintf("%d shared libraries in %s", n, paths.SharedDir))))
	}
	return sb.String()
}
