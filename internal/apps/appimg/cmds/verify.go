package appimg

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	buildcmd "github.com/0xa1bed0/appimg/internal/apps/appimg/cmds/build"
	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/dockerclient"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/manifest"
	"github.com/0xa1bed0/appimg/internal/verify"
)

func newVerifyCmd() *cobra.Command {
	var imageRef string

	cmd := &cobra.Command{
		Use:   "verify [PATH]",
		Short: "Check an image against the build guarantees",
		Long: `Inspect an image and run one throwaway container in it to check that:
runtime packages are installed, dev-only packages are present only in DEV
builds, the default user is not root, PATH prefers /py/bin then /scripts and
the manifests were removed.

The image defaults to the project's tag. Without --dev the DEV decision is
read from the image's labels.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs.Debugf("running verify...")

			signalsCtx, stopSignalsCtx := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stopSignalsCtx()

			project, err := buildcmd.ResolveProject(signalsCtx, cmd, args, nil)
			if err != nil {
				return err
			}
			in, err := project.Inputs()
			if err != nil {
				return err
			}

			runtimeManifest, err := manifest.Load(in.RuntimeManifest)
			if err != nil {
				return fmt.Errorf("runtime manifest: %w", err)
			}
			devManifest, err := manifest.Load(in.DevManifest)
			if err != nil {
				return fmt.Errorf("dev manifest: %w", err)
			}

			expect := verify.Expect{
				Layout:  in.Layout,
				Runtime: runtimeManifest,
				Dev:     devManifest,
			}
			if cmd.Flags().Changed("dev") {
				_, include := in.Dev.(buildplan.Include)
				expect.DevIncluded = &include
			}

			if imageRef == "" {
				imageRef = project.ImageTag()
			}

			dockerClient, err := dockerclient.NewDockerClient(signalsCtx)
			if err != nil {
				return err
			}

			facts, err := verify.Collect(signalsCtx, dockerClient, imageRef, in.Layout)
			if err != nil {
				return err
			}
			report := verify.Check(facts, expect)
			report.Log()

			return report.Err()
		},
	}

	cmd.Flags().StringVar(&imageRef, "image", "", "Image to check (default: the project's tag)")
	buildcmd.AttachConfigFlags(cmd)

	return cmd
}
