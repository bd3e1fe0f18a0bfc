package appimg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	buildcmd "github.com/0xa1bed0/appimg/internal/apps/appimg/cmds/build"
	"github.com/0xa1bed0/appimg/internal/dockerclient"
	"github.com/0xa1bed0/appimg/internal/imagecache"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/runtime"
	"github.com/0xa1bed0/appimg/internal/ui"
)

type cleanOptions struct {
	yes       bool
	pick      bool
	olderThan time.Duration
}

func newCleanCmd() *cobra.Command {
	opts := &cleanOptions{}

	cmd := &cobra.Command{
		Use:   "clean [PATH]",
		Short: "Remove cached builds and their images",
		Long: `Remove images appimg built, together with their cache entries.

With PATH only that project's builds are considered. --pick lets you choose
which builds go, --older-than keeps recent ones.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs.Debugf("running clean...")

			ctx := cmd.Context()
			kv := buildcmd.OpenState(ctx)
			if kv == nil {
				return errors.New("build state is unavailable, nothing to clean")
			}
			cache := imagecache.New(kv)

			records, err := cache.List(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				project, err := buildcmd.ResolveProject(ctx, cmd, args, kv)
				if err != nil {
					return err
				}
				records = filterByProject(records, project.Name())
			}
			now := time.Now()
			if opts.olderThan > 0 && len(args) == 0 {
				n, err := runtime.ForgetProjectsUnusedSince(ctx, kv, now.Add(-opts.olderThan))
				if err != nil {
					logs.Warnf("can't prune project state: %v", err)
				} else if n > 0 {
					logs.Debugf("forgot %d idle project(s)", n)
				}
			}

			records = filterOlderThan(records, opts.olderThan, now)
			if len(records) == 0 {
				logs.Infof("nothing to clean")
				return nil
			}
			sortNewestFirst(records)

			if opts.pick {
				records, err = pickRecords(records)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return nil
				}
			} else if !opts.yes {
				ok, err := logs.PromptConfirm(fmt.Sprintf("Remove %d cached build(s)?", len(records)))
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			dockerClient, err := dockerclient.NewDockerClient(ctx)
			if err != nil {
				return err
			}

			return removeRecords(ctx, dockerClient, cache, records)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.yes, "yes", "y", false, "Do not ask for confirmation")
	flags.BoolVar(&opts.pick, "pick", false, "Choose the builds to remove interactively")
	flags.DurationVar(&opts.olderThan, "older-than", 0, "Only remove builds older than this (e.g. 168h)")

	return cmd
}

func filterOlderThan(records []imagecache.Record, age time.Duration, now time.Time) []imagecache.Record {
	if age <= 0 {
		return records
	}
	cutoff := now.Add(-age)
	var out []imagecache.Record
	for _, r := range records {
		if r.BuiltAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func pickRecords(records []imagecache.Record) ([]imagecache.Record, error) {
	byKey := make(map[string]imagecache.Record, len(records))
	var options []ui.SelectOption
	for _, r := range records {
		byKey[string(r.Key)] = r
		label := fmt.Sprintf("%s  %s  %s", r.Tag, shortImageID(r.ImageID), humanize.Time(r.BuiltAt))
		options = append(options, logs.NewSelectOption(label, string(r.Key)))
	}

	chosen, err := logs.PromptSelectMany("Builds to remove", options)
	if err != nil {
		return nil, err
	}
	out := make([]imagecache.Record, 0, len(chosen))
	for _, o := range chosen {
		out = append(out, byKey[o.OptionID()])
	}
	return out, nil
}

// removeRecords removes each image and then its cache entry. A failed image
// removal keeps the entry so the next clean retries it.
func removeRecords(ctx context.Context, images dockerclient.DockerImageBuilder, cache *imagecache.Cache, records []imagecache.Record) error {
	var errs []error
	removed := 0
	for _, r := range records {
		if err := images.RemoveImage(ctx, r.ImageID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Tag, err))
			continue
		}
		if err := cache.Delete(ctx, r.Key); err != nil {
			errs = append(errs, fmt.Errorf("%s: forget cache entry: %w", r.Tag, err))
			continue
		}
		logs.Debugf("removed %s (%s)", r.Tag, shortImageID(r.ImageID))
		removed++
	}
	if removed > 0 {
		logs.Successf("removed %d cached build(s)", removed)
	}
	return errors.Join(errs...)
}
