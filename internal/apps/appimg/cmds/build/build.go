package buildcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0xa1bed0/appimg/internal/builder"
	"github.com/0xa1bed0/appimg/internal/dockerclient"
	"github.com/0xa1bed0/appimg/internal/imagecache"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/verify"
)

type buildOptions struct {
	ForceRebuild bool
	Verify       bool
}

// AttachBuildCmdFlags attaches the "build" cmd flags to the given command.
func AttachBuildCmdFlags(cmd *cobra.Command) {
	opts := &buildOptions{}

	flags := cmd.Flags()
	flags.BoolVar(&opts.ForceRebuild, "build", false, "Rebuild even if an identical image is cached")
	flags.BoolVar(&opts.Verify, "verify", false, "Check the image against the build guarantees afterwards")

	AttachConfigFlags(cmd)

	prev := cmd.PreRun
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		prev(cmd, args)
		cmd.SetContext(withBuildOptions(cmd.Context(), opts))
	}
}

func NewBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [PATH]",
		Short: "Build the application image",
		Long: `Build the application image for the project at PATH.

PATH holds requirements.txt, requirements.dev.txt and app/ unless a .appimg
file says otherwise. If PATH is omitted, the current working directory is used.
Identical inputs reuse the image built last time; pass --build to rebuild.`,
		Args: cobra.MaximumNArgs(1),
		RunE: BuildCmdRunE,
	}

	AttachBuildCmdFlags(cmd)

	return cmd
}

// BuildCmdRunE is a separate function so root can reuse it (default command)
func BuildCmdRunE(cmd *cobra.Command, args []string) error {
	logs.Debugf("running build...")

	opts := getBuildOptions(cmd.Context())
	if opts == nil {
		opts = &buildOptions{}
	}

	signalsCtx, stopSignalsCtx := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignalsCtx()

	kv := OpenState(signalsCtx)

	project, err := ResolveProject(signalsCtx, cmd, args, kv)
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

	if !project.Known() {
		logs.Infof("first build of %s", project.Path())
	}

	dockerClient, err := dockerclient.NewDockerClient(signalsCtx)
	if err != nil {
		return err
	}

	b := builder.New(dockerClient, imagecache.New(kv))
	res, err := b.Build(signalsCtx, builder.Options{
		Inputs:  in,
		Tag:     project.ImageTag(),
		Project: project.Name(),
		Ignore:  cfg.Ignore,
		Force:   opts.ForceRebuild,
	})
	if err != nil {
		return err
	}
	project.SetKnown(signalsCtx)

	if !opts.Verify {
		return nil
	}

	logs.Spacer()
	facts, err := verify.Collect(signalsCtx, dockerClient, res.ImageID, in.Layout)
	if err != nil {
		return err
	}
	devIncluded := res.Prepared.Plan.DevIncluded()
	report := verify.Check(facts, verify.Expect{
		Layout:      in.Layout,
		Runtime:     res.Prepared.Runtime,
		Dev:         res.Prepared.Dev,
		DevIncluded: &devIncluded,
	})
	report.Log()

	return report.Err()
}

type ctxKeyBuildOptions struct{}

func withBuildOptions(ctx context.Context, opts *buildOptions) context.Context {
	return context.WithValue(ctx, ctxKeyBuildOptions{}, opts)
}

func getBuildOptions(ctx context.Context) *buildOptions {
	v := ctx.Value(ctxKeyBuildOptions{})
	if v == nil {
		return nil
	}
	return v.(*buildOptions)
}
