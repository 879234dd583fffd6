package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/corey/grammargen/internal/domain/grammar"
	"github.com/corey/grammargen/internal/domain/registry"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered grammars",
	Long:  "Shows every grammar package under the grammars directory, the files it provides and its submodule revision. Nothing is compiled.",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	_, paths, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pkgs, err := grammar.Scan(paths.GrammarsDir)
	if err != nil {
		return err
	}

	// list is informational: a missing registry only blanks the URL column.
	reg, err := registry.Load(paths.Registry)
	if err != nil {
		if !errors.Is(err, registry.ErrNoRegistry) {
			return err
		}
		logger.Warn("no module registry", "path", paths.Registry)
		reg = registry.Registry{}
	}

	out := cmd.OutOrStdout()
	if len(pkgs) == 0 {
		fmt.Fprintf(out, "no grammars under %s\n", paths.GrammarsDir)
		return nil
	}

	data := make([][]string, 0, len(pkgs))
	for _, p := range pkgs {
		url, _ := reg.URL(p.Dir)
		rev, ok, err := registry.ResolveRevision(paths.GitDir, p.Dir)
		if err != nil {
			logger.Warn("unable to read grammar revision", "grammar", p.Dir, "err", err)
		}
		if !ok {
			rev = "-"
		} else if len(rev) > 12 {
			rev = rev[:12]
		}
		data = append(data, []string{
			p.Dir,
			p.GoName(),
			mark(p.HasParser),
			scannerLabel(p),
			queryLabel(p),
			rev,
			orDash(url),
		})
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"NAME", "GO NAME", "PARSER", "SCANNER", "QUERIES", "REVISION", "UPSTREAM"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("   ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func scannerLabel(p *grammar.Package) string {
	var parts []string
	if p.HasScannerC {
		parts = append(parts, "c")
	}
	if p.HasScannerCC {
		parts = append(parts, "c++")
	}
	return orDash(strings.Join(parts, ","))
}

func queryLabel(p *grammar.Package) string {
	var parts []string
	if p.HasHighlights {
		parts = append(parts, "highlights")
	}
	if p.HasInjections {
		parts = append(parts, "injections")
	}
	if p.HasLocals {
		parts = append(parts, "locals")
	}
	return orDash(strings.Join(parts, ","))
}
