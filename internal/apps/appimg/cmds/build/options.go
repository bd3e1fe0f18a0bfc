package buildcmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/runtime"
	"github.com/0xa1bed0/appimg/internal/state"
)

// configOptions are the flags that feed the command line config layer.
type configOptions struct {
	Dev       string
	Tag       string
	BaseImage string
	User      string
	Port      int
	Ignore    []string
}

// AttachConfigFlags attaches the build config flags to cmd and injects the
// parsed options into the command's context via PreRun.
func AttachConfigFlags(cmd *cobra.Command) {
	opts := &configOptions{}

	flags := cmd.Flags()
	flags.StringVar(&opts.Dev, "dev", "", "Install the development manifest too (true|false)")
	flags.Lookup("dev").NoOptDefVal = "true"
	flags.StringVarP(&opts.Tag, "tag", "t", "", "Image tag (default '<dir>:latest')")
	flags.StringVar(&opts.BaseImage, "base", "", "Base runtime image (default 'python:3.9-alpine3.13')")
	flags.StringVar(&opts.User, "user", "", "Runtime user created in the image")
	flags.IntVar(&opts.Port, "port", 0, "Port the image exposes")
	flags.StringSliceVar(&opts.Ignore, "ignore", nil, "Extra app/ paths to leave out of the image (may be repeated)")

	prev := cmd.PreRun
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if prev != nil {
			prev(cmd, args)
		}
		cmd.SetContext(withConfigOptions(cmd.Context(), opts))
	}
}

// BuildConfig is the command line layer. Unset flags leave lower layers alone.
func (co *configOptions) BuildConfig() *runtime.BuildConfig {
	cfg := runtime.NewBuildConfig("command line")
	cfg.Dev = co.Dev
	cfg.Tag = co.Tag
	cfg.BaseImage = co.BaseImage
	cfg.User = co.User
	cfg.Port = co.Port
	cfg.Ignore = co.Ignore
	return cfg
}

type ctxKeyConfigOptions struct{}

func withConfigOptions(ctx context.Context, opts *configOptions) context.Context {
	return context.WithValue(ctx, ctxKeyConfigOptions{}, opts)
}

func getConfigOptions(ctx context.Context) *configOptions {
	v := ctx.Value(ctxKeyConfigOptions{})
	if v == nil {
		return nil
	}
	return v.(*configOptions)
}

// ResolveProject binds rt to the project named by args (default: the
// working directory) with the command line config layered on top.
func ResolveProject(ctx context.Context, cmd *cobra.Command, args []string, kvStore *state.KVStore) (*runtime.Project, error) {
	rt := runtime.FromContextOrPanic(cmd.Context())

	pathArg := "."
	if len(args) == 1 {
		pathArg = args[0]
	} else {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		pathArg = pwd
	}

	project, err := rt.ResolveProject(ctx, pathArg, kvStore)
	if err != nil {
		return nil, err
	}

	if opts := getConfigOptions(cmd.Context()); opts != nil {
		project.SetBuildConfigOverride(opts.BuildConfig())
	}
	logs.Debugf("project %s at %s (known=%t)", project.Name(), project.Path(), project.Known())

	return project, nil
}

// OpenState opens the build state database. The commands keep working
// without it, just without the cache.
func OpenState(ctx context.Context) *state.KVStore {
	kv, err := state.DefaultKVStore(ctx)
	if err != nil {
		logs.Warnf("can't open build state: %v", err)
		return nil
	}
	return kv
}
