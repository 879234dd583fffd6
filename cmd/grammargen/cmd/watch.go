package cmd

import (
	"fmt"

	fsw "github.com/corey/grammargen/internal/adapters/fsnotify"
	"github.com/corey/grammargen/internal/app"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Regenerate bindings whenever a grammar input changes",
	Long: "Runs generate once, then again after every change to a parser, scanner, query,\n" +
		"grammar.js, node-types.json or .gitmodules. Stop with Ctrl-C.",
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addGenerateFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	g, cleanup, err := openGenerator(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	w, err := fsw.NewWatcher(logger)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	color := useColor()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s watching %s\n", paint(color, colorBold, "⚡"), g.Paths().Root)
	return g.Watch(cmd.Context(), w, func(res *app.Result, err error) {
		if err != nil {
			PrintError(cmd.ErrOrStderr(), err)
			return
		}
		fmt.Fprint(out, formatResult(res, g.Paths(), color))
	})
}
