package cmd

import "os"

// isStdoutTTY returns true if stdout is connected to a terminal.
func isStdoutTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// resolveColor determines whether to use color output based on flags and TTY status.
// colorFlag is the --color value: "auto", "always", or "never".
// noColor reports whether NO_COLOR is set in the environment.
func resolveColor(colorFlag string, noColor bool) bool {
	switch colorFlag {
	case "always":
		return true
	case "never":
		return false
	default: // "auto"
		return !noColor && isStdoutTTY()
	}
}

func useColor() bool {
	return resolveColor(colorMode, os.Getenv("NO_COLOR") != "")
}
