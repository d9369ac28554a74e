package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/conneroisu/meread/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var (
		format string
		short  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version information for meread including:

- Semantic version number
- Git commit hash
- Build timestamp
- Go version and target platform

Examples:
  meread version                # Show version with build details
  meread version --short        # Show version number only
  meread version --format json  # Output as JSON`,
		Args: cobra.NoArgs,
		// The root pre-run loads configuration the version output does not need.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return outputVersionJSON(out)
			case "text":
				if short {
					_, err := fmt.Fprintln(out, version.GetShortVersion())
					return err
				}
				return outputVersionDefault(out)
			default:
				return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json)")
	cmd.Flags().BoolVar(&short, "short", false, "Show short version only")

	return cmd
}

func outputVersionDefault(out io.Writer) error {
	info := version.GetBuildInfo()

	fmt.Fprintf(out, "meread %s", info.Version)
	if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
		fmt.Fprintf(out, " (%s)", info.GitCommit[:7])
	}
	if version.IsDirty() {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)

	if !info.BuildTime.IsZero() {
		fmt.Fprintf(out, "Built: %s\n", info.BuildTime.Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
	fmt.Fprintf(out, "Platform: %s\n", info.Platform)

	return nil
}

func outputVersionJSON(out io.Writer) error {
	info := version.GetBuildInfo()

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]interface{}{
		"version":    info.Version,
		"git_commit": info.GitCommit,
		"build_time": info.BuildTime,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
		"is_release": version.IsRelease(),
		"is_dirty":   version.IsDirty(),
	})
}
