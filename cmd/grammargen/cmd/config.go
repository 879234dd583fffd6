package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/corey/grammargen/internal/config"
	"github.com/corey/grammargen/internal/domain/emit"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long:  "Shows every setting after defaults, grammargen.yaml, environment and flags are applied, and the paths they resolve to.",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, paths, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	color := useColor()
	out := cmd.OutOrStdout()

	source := paint(color, colorGray, "(defaults)")
	if _, err := os.Stat(filepath.Join(paths.Root, config.FileName)); err == nil {
		source = paint(color, colorCyan, config.FileName)
	}

	fmt.Fprintf(out, "%s %s\n", paint(color, colorBold, "⚡ grammargen config"), source)
	fmt.Fprintf(out, "  Root:       %s\n", paths.Root)
	fmt.Fprintf(out, "  Grammars:   %s\n", paths.GrammarsDir)
	fmt.Fprintf(out, "  Registry:   %s%s\n", paths.Registry, presence(color, paths.Registry))
	fmt.Fprintf(out, "  Git dir:    %s\n", paths.GitDir)
	fmt.Fprintf(out, "  Output:     %s\n", paths.Output)
	fmt.Fprintf(out, "  Highlight:  %s\n", paths.HighlightOutput)
	fmt.Fprintf(out, "  Depfile:    %s\n", paths.Depfile)
	fmt.Fprintf(out, "  Package:    %s\n", cfg.Package)
	runtime := cfg.HighlightImport
	if runtime == "" {
		runtime = emit.DefaultHighlightImport
	}
	fmt.Fprintf(out, "  Runtime:    %s\n", runtime)
	fmt.Fprintf(out, "  Artifacts:  %s\n", paths.OutDir)
	fmt.Fprintf(out, "  Cache:      %s%s\n", paths.CacheDB, presence(color, paths.CacheDB))
	fmt.Fprintf(out, "  Manifest:   %s%s\n", paths.Manifest, presence(color, paths.Manifest))
	fmt.Fprintf(out, "  CC:         %s\n", toolStatus(color, cfg.CC, "cc"))
	fmt.Fprintf(out, "  CXX:        %s\n", toolStatus(color, cfg.CXX, "c++"))
	fmt.Fprintf(out, "  AR:         %s\n", toolStatus(color, cfg.AR, "ar"))
	fmt.Fprintf(out, "  CFLAGS:     %s\n", orDash(strings.Join(cfg.CFlags, " ")))
	fmt.Fprintf(out, "  Shared:     %t\n", cfg.Shared)
	return nil
}

func presence(color bool, path string) string {
	if _, err := os.Stat(path); err != nil {
		return " " + paint(color, colorYellow, "✗ missing")
	}
	return " " + paint(color, colorGreen, "✓")
}

// toolStatus shows the configured driver and whether its program is on PATH.
func toolStatus(color bool, configured, fallback string) string {
	drv := configured
	if strings.TrimSpace(drv) == "" {
		drv = fallback
	}
	prog := strings.Fields(drv)[0]
	if _, err := exec.LookPath(prog); err != nil {
		return drv + " " + paint(color, colorYellow, "✗ not found")
	}
	return drv + " " + paint(color, colorGreen, "✓")
}
