package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/corey/grammargen/internal/adapters/treesitter"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Load every generated shared library and check it",
	Long: "Reads the generation manifest, dlopens each grammar's shared library, resolves its\n" +
		"tree_sitter_<module> entry point and checks the language ABI against the linked\n" +
		"tree-sitter runtime. Requires a previous `grammargen generate --shared`.",
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	_, paths, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	m, err := treesitter.LoadManifest(paths.Manifest)
	if err != nil {
		return fmt.Errorf("%w (run `grammargen generate --shared` first)", err)
	}

	color := useColor()
	out := cmd.OutOrStdout()
	dl := treesitter.NewDynamicLoader(paths.SharedDir)
	defer dl.Close()

	checked, failed := 0, 0
	known := make(map[string]bool)
	for _, name := range m.Names() {
		info := m.Grammars[name]
		if info.Library == "" {
			continue
		}
		known[name] = true
		checked++

		if err := verifyLibrary(dl, paths.Root, info); err != nil {
			failed++
			fmt.Fprintf(out, "  %s %s: %v\n", paint(color, colorYellow, "✗"), name, err)
			continue
		}
		lang, _ := dl.LoadGrammar(name, info.Symbol)
		fmt.Fprintf(out, "  %s %s %s\n", paint(color, colorGreen, "✓"), name,
			paint(color, colorGray, fmt.Sprintf("abi %d, %d node kinds", lang.AbiVersion(), lang.NodeKindCount())))
	}

	for _, name := range dl.InstalledGrammars() {
		if !known[name] {
			fmt.Fprintf(out, "  %s %s: not in manifest, left over from an earlier run\n", paint(color, colorGray, "?"), name)
		}
	}

	if checked == 0 {
		return fmt.Errorf("manifest lists no shared libraries (run `grammargen generate --shared`)")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d grammars failed verification", failed, checked)
	}
	fmt.Fprintf(out, "%s %d grammars verified\n", paint(color, colorBold, "⚡"), checked)
	return nil
}

// verifyLibrary checks the library on disk is the one the manifest
// recorded, then loads it.
func verifyLibrary(dl *treesitter.DynamicLoader, root string, info treesitter.GrammarInfo) error {
	path := info.Library
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, filepath.FromSlash(path))
	}
	sum, err := treesitter.FileSHA256(path)
	if err != nil {
		return err
	}
	if sum != info.LibrarySHA256 {
		return fmt.Errorf("library changed since generation (sha256 %s, manifest %s)", short(sum), short(info.LibrarySHA256))
	}
	_, err = dl.LoadGrammar(info.Name, info.Symbol)
	return err
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
