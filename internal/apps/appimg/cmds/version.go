package appimg

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0xa1bed0/appimg/internal/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of appimg",
		Long:  `Display the current version of appimg and the image schema it renders.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}

	return cmd
}
