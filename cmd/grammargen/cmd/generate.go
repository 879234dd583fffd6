package cmd

import (
	"fmt"
	"os"

	"github.com/corey/grammargen/internal/adapters/bbolt"
	"github.com/corey/grammargen/internal/adapters/cc"
	"github.com/corey/grammargen/internal/app"
	"github.com/corey/grammargen/internal/config"
	"github.com/spf13/cobra"
)

// Flags shared by generate and watch.
var (
	genOutput  string
	genPackage string
	genCFlags  []string
	genShared  bool
	genForce   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Compile grammars and write the Go bindings",
	Long: "Scans the grammars directory, compiles every parser and scanner into three static\n" +
		"archives, and writes the bindings file plus its depfile and manifest.\n" +
		"Unchanged compilation jobs are skipped unless --force is given.",
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	addGenerateFlags(generateCmd)
}

func addGenerateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&genOutput, "output", "", "Bindings file name inside the grammars directory")
	f.StringVar(&genPackage, "package", "", "Go package name of the generated files")
	f.StringSliceVar(&genCFlags, "cflags", nil, "Extra compiler flags appended to every unit")
	f.BoolVar(&genShared, "shared", false, "Also link one shared library per grammar")
	f.BoolVar(&genForce, "force", false, "Recompile every job regardless of recorded fingerprints")
}

// applyGenerateFlags copies the generate flags the user set onto cfg.
// Commands without these flags leave cfg untouched.
func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Output = genOutput
	}
	if f.Changed("package") {
		cfg.Package = genPackage
	}
	if f.Changed("cflags") {
		cfg.CFlags = genCFlags
	}
	if f.Changed("shared") {
		cfg.Shared = genShared
	}
	if f.Changed("force") {
		cfg.Force = genForce
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	g, cleanup, err := openGenerator(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := g.Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), formatResult(res, g.Paths(), useColor()))
	return nil
}

// openGenerator wires the toolchain and the fingerprint cache into a
// generator. cleanup releases both.
func openGenerator(cmd *cobra.Command) (*app.Generator, func(), error) {
	cfg, paths, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("create artifact dirs: %w", err)
	}

	store, err := bbolt.NewStore(paths.CacheDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	tc := cc.New(cc.Config{CC: cfg.CC, CXX: cfg.CXX, AR: cfg.AR}, logger)
	if err := tc.Available(); err != nil {
		store.Close()
		return nil, nil, err
	}
	cleanup := func() {
		tc.Close()
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: close cache: %v\n", err)
		}
	}

	g, err := app.NewGenerator(cfg, tc, store, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return g, cleanup, nil
}
