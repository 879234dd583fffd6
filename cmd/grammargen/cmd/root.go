package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/corey/grammargen/internal/config"
	"github.com/spf13/cobra"
)

var (
	rootDir     string
	grammarsDir string
	outDir      string
	logLevel    string
	logFormat   string
	colorMode   string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "grammargen",
	Short: "grammargen — tree-sitter grammar bindings for Go",
	Long: "Compiles the tree-sitter grammars under a grammars directory into static archives\n" +
		"and generates Go bindings that link them through cgo.",
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootDir, "root", "", "Project root (default: current directory)")
	pf.StringVar(&grammarsDir, "grammars", "", "Grammars directory, relative to the root")
	pf.StringVar(&outDir, "out-dir", "", "Artifact directory for archives, objects and cache")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&colorMode, "color", "auto", "Colorize output: auto, always, never")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanCmd)
}

// Execute runs the root command. Interrupts cancel the command context so
// a running compiler is killed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// PrintError writes err in the CLI's error format, with a hint for known
// failure modes.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	if isDBLockError(err) {
		fmt.Fprintln(w, diagnoseDBLock())
	}
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	l, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
	if err != nil {
		return err
	}
	logger = l
	slog.SetDefault(l)
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", format)
	}
}

// projectRoot returns --root or the current directory.
func projectRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	return os.Getwd()
}

// loadConfig resolves the config for the project: defaults, grammargen.yaml,
// environment, then any flag the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Paths, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(root, os.Getenv)
	if err != nil {
		return nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("grammars") {
		cfg.GrammarsDir = grammarsDir
	}
	if flags.Changed("out-dir") {
		cfg.OutDir = outDir
	}
	applyGenerateFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	paths, err := cfg.Resolve()
	if err != nil {
		return nil, nil, err
	}
	return cfg, paths, nil
}
