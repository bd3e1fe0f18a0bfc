package appimg

import (
	"github.com/spf13/cobra"

	buildcmd "github.com/0xa1bed0/appimg/internal/apps/appimg/cmds/build"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/runtime"
)

var verbosity int

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "appimg [PATH]",
		Short: "Build container images for Python web applications",
		Long: `appimg turns a Python web application checkout into a runnable image:
an isolated environment at /py, the runtime manifest (and the dev manifest
with --dev) installed, a non-root runtime user and a PATH that prefers /py/bin.

By default, 'appimg' is equivalent to 'appimg build [PATH]'.
If PATH is omitted, the current working directory is used.`,
		Args: cobra.MaximumNArgs(1),
		// Default behavior is the same as 'build'
		RunE: buildcmd.BuildCmdRunE,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logs.SetDebugVerbosity(verbosity)
			return nil
		},
		// we will handle that
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity level")

	// Root should accept the same flags as `build`
	buildcmd.AttachBuildCmdFlags(rootCmd)

	rootCmd.AddCommand(buildcmd.NewBuildCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func Execute(rt *runtime.Runtime) error {
	return newRootCmd().ExecuteContext(rt.Ctx())
}
