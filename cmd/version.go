package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/htmlforge/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the version, git commit, build time, Go version and platform
of this binary.

Examples:
  htmlforge version               # Show version
  htmlforge version --short       # Show version only
  htmlforge version --format json # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	switch versionFormat {
	case "json":
		return writeVersionJSON(w)
	case "text":
		if versionShort {
			fmt.Fprintln(w, version.GetShortVersion())
			return nil
		}
		return writeVersionText(w)
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}

func writeVersionText(w io.Writer) error {
	info := version.GetBuildInfo()
	fmt.Fprintf(w, "htmlforge %s\n", info.Version)
	if info.GitCommit != "unknown" {
		dirty := ""
		if info.Dirty {
			dirty = " (dirty)"
		}
		fmt.Fprintf(w, "  commit:   %s%s\n", info.GitCommit, dirty)
	}
	if !info.BuildTime.IsZero() {
		fmt.Fprintf(w, "  built:    %s\n", info.BuildTime.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Fprintf(w, "  go:       %s\n", info.GoVersion)
	fmt.Fprintf(w, "  platform: %s\n", info.Platform)
	return nil
}

func writeVersionJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(version.GetBuildInfo())
}
