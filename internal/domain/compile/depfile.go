package compile

import (
	"bufio"
	"io"
	"strings"
)

// WriteDepfile writes a Make-style dependency rule declaring that target
// must be regenerated whenever any of deps changes. Duplicate deps are
// written once, in first-seen order.
//
//	grammars/grammars_gen.go: \
//	  grammars/foo/src/parser.c \
//	  .gitmodules
func WriteDepfile(w io.Writer, target string, deps []string) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(escapeMake(target))
	bw.WriteString(":")

	seen := make(map[string]bool, len(deps))
	for _, d := range deps {
		if seen[d] {
			continue
		}
		seen[d] = true
		bw.WriteString(" \\\n  ")
		bw.WriteString(escapeMake(d))
	}
	bw.WriteString("\n")
	return bw.Flush()
}

// escapeMake escapes the characters Make treats specially in a rule.
func escapeMake(path string) string {
	r := strings.NewReplacer(
		" ", `\ `,
		"#", `\#`,
		"$", "$$",
	)
	return r.Replace(path)
}
