package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/camhal/internal/buildinfo"
)

// Command creates a new cobra.Command printing build information.
func Command(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "camhal %s (built %s)\n", info.GetVersion(), info.GetBuildDate())
			return err
		},
	}
}
