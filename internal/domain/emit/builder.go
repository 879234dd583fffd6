package emit

import (
	"bufio"
	"fmt"
	"strings"

	"golang.org/x/tools/imports"
)

// codeBuilder accumulates Go source line by line. The zero value is ready
// to use.
type codeBuilder struct {
	indent int
	b      strings.Builder
}

// Linef writes a single line, prepended by the current indentation.
func (w *codeBuilder) Linef(format string, args ...any) {
	for i := 0; i < w.indent; i++ {
		w.b.WriteByte('\t')
	}
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

// Blank writes an empty line.
func (w *codeBuilder) Blank() {
	w.b.WriteByte('\n')
}

// Comment writes text as // comment lines. Empty lines become a bare "//".
func (w *codeBuilder) Comment(text string) {
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			w.Linef("// %s", line)
		} else {
			w.Linef("//")
		}
	}
}

// Block writes open, runs body one level deeper, then writes close.
func (w *codeBuilder) Block(open, close string, body func()) {
	w.Linef("%s", open)
	w.indent++
	body()
	w.indent--
	w.Linef("%s", close)
}

func (w *codeBuilder) String() string {
	return w.b.String()
}

// Format gofmt-formats the accumulated source and sorts its imports.
// A syntax error in the generated text surfaces here.
func (w *codeBuilder) Format(filename string) ([]byte, error) {
	out, err := imports.Process(filename, []byte(w.String()), &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", filename, err)
	}
	return out, nil
}
