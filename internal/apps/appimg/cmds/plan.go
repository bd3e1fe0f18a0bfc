package appimg

import (
	"fmt"

	"github.com/spf13/cobra"

	buildcmd "github.com/0xa1bed0/appimg/internal/apps/appimg/cmds/build"
	"github.com/0xa1bed0/appimg/internal/builder"
	"github.com/0xa1bed0/appimg/internal/logs"
)

func newPlanCmd() *cobra.Command {
	var steps bool

	cmd := &cobra.Command{
		Use:   "plan [PATH]",
		Short: "Print the Dockerfile a build would use",
		Long: `Render the build plan for the project at PATH without touching Docker.

Prints the Dockerfile, or with --steps the ordered install steps.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs.Debugf("running plan...")

			project, err := buildcmd.ResolveProject(cmd.Context(), cmd, args, nil)
			if err != nil {
				return err
			}
			in, err := project.Inputs()
			if err != nil {
				return err
			}
			cfg, err := project.BuildConfig()
			if err != nil {
				return err
			}

			prep, err := builder.Prepare(in, cfg.Ignore)
			if err != nil {
				return err
			}
			logs.Debugf("cache key %s, context %s (%d files)", prep.Key.Short(), prep.Context.Digest, prep.Context.Files)

			out := cmd.OutOrStdout()
			if steps {
				for i, s := range prep.Plan.Steps {
					fatal := ""
					if !s.Fatal {
						fatal = " (best effort)"
					}
					fmt.Fprintf(out, "%d. %s%s\n", i+1, s, fatal)
				}
				return nil
			}

			_, err = fmt.Fprint(out, prep.Dockerfile.String())
			return err
		},
	}

	cmd.Flags().BoolVar(&steps, "steps", false, "Print the install steps instead of the Dockerfile")
	buildcmd.AttachConfigFlags(cmd)

	return cmd
}
