package appimg

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	buildcmd "github.com/0xa1bed0/appimg/internal/apps/appimg/cmds/build"
	"github.com/0xa1bed0/appimg/internal/imagecache"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/ui"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [PATH]",
		Aliases: []string{"ls"},
		Short:   "List cached builds",
		Long: `List the images appimg built and remembers.

With PATH only the builds of that project are shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs.Debugf("running list...")

			kv := buildcmd.OpenState(cmd.Context())
			records, err := imagecache.New(kv).List(cmd.Context())
			if err != nil {
				return err
			}

			if len(args) == 1 {
				project, err := buildcmd.ResolveProject(cmd.Context(), cmd, args, kv)
				if err != nil {
					return err
				}
				records = filterByProject(records, project.Name())
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				_, err := fmt.Fprintln(out, "No cached builds")
				return err
			}

			return renderRecords(records).Render(out)
		},
	}

	return cmd
}

func filterByProject(records []imagecache.Record, project string) []imagecache.Record {
	return slices.DeleteFunc(records, func(r imagecache.Record) bool {
		return r.Project != project
	})
}

func sortNewestFirst(records []imagecache.Record) {
	slices.SortStableFunc(records, func(a, b imagecache.Record) int {
		return b.BuiltAt.Compare(a.BuiltAt)
	})
}

func renderRecords(records []imagecache.Record) *ui.Table {
	sortNewestFirst(records)

	t := ui.NewTable(
		ui.Column{Header: "TAG", MaxWidth: 40},
		ui.Column{Header: "IMAGE ID"},
		ui.Column{Header: "PROJECT", MaxWidth: 40},
		ui.Column{Header: "BASE", MaxWidth: 32},
		ui.Column{Header: "DEV"},
		ui.Column{Header: "BUILT", Align: ui.AlignRight},
	)
	for _, r := range records {
		built := "-"
		if !r.BuiltAt.IsZero() {
			built = humanize.Time(r.BuiltAt)
		}
		t.AddRow(r.Tag, shortImageID(r.ImageID), r.Project, r.Base, r.Dev, built)
	}
	return t
}

func shortImageID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
