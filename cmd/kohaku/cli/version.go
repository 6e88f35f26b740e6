package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// versionInfo is the build identity stamped in via ldflags at release time.
type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
	Go      string `json:"go_version"`
	Target  string `json:"target"`
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var (
		jsonOutput bool
		short      bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version: version,
				Commit:  commit,
				Built:   date,
				Go:      runtime.Version(),
				Target:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			out := cmd.OutOrStdout()

			switch {
			case short:
				fmt.Fprintln(out, info.Version)
			case jsonOutput:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			default:
				fmt.Fprintf(out, "kohaku %s (%s, built %s, %s %s)\n",
					info.Version, info.Commit, info.Built, info.Go, info.Target)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
