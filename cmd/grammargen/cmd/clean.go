package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/corey/grammargen/internal/adapters/bbolt"
	"github.com/spf13/cobra"
)

var (
	cleanForce   bool
	cleanOutputs bool
	cleanAll     bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove build artifacts and recorded fingerprints",
	Long: "Deletes the compiled archives, objects, shared libraries and manifest, and forgets\n" +
		"the recorded fingerprints so the next generate compiles everything.",
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "Skip confirmation prompt")
	cleanCmd.Flags().BoolVar(&cleanOutputs, "outputs", false, "Also remove the generated Go files and depfile")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Forget fingerprints of every project sharing the cache")
}

func runClean(cmd *cobra.Command, args []string) error {
	_, paths, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !cleanForce {
		fmt.Fprintf(out, "⚠ This will delete build artifacts in %s. Continue? [y/N] ", paths.OutDir)
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "cancelled")
			return nil
		}
	}

	if err := forgetFingerprints(paths.CacheDB, paths.GrammarsDir, cleanAll); err != nil {
		return err
	}

	for _, dir := range []string{paths.LibDir, paths.ObjDir, paths.SharedDir} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	files := []string{paths.Manifest}
	if cleanOutputs {
		files = append(files, paths.Output, paths.HighlightOutput, paths.Depfile)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	fmt.Fprintln(out, "⚡ build artifacts removed")
	return nil
}

// forgetFingerprints drops the project's namespace from the cache, or every
// namespace with all. A missing cache has nothing to forget.
func forgetFingerprints(dbPath, projectID string, all bool) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}
	store, err := bbolt.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	ids := []string{projectID}
	if all {
		if ids, err = store.Projects(); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := store.DeleteProject(id); err != nil {
			return err
		}
	}
	return nil
}
