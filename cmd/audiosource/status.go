package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of every background job and library totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := store.NewSQLiteDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := db.EnsureJobStatuses(domain.JobKinds); err != nil {
				return err
			}
			statuses, err := db.ListJobStatuses()
			if err != nil {
				return err
			}
			stats, err := db.GetStats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStatuses(statuses))
			fmt.Fprintf(out, "Library: %d owned, %d missing, %d wishlisted, %d artists, %d tracks\n",
				stats.AlbumCount, stats.MissingAlbumCount, stats.WishlistCount, stats.ArtistCount, stats.TrackCount)
			return nil
		},
	}
}

func renderStatuses(statuses []*domain.JobStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		errMsg := ""
		if s.State == domain.JobStateError && s.ErrorMessage != nil {
			errMsg = *s.ErrorMessage
		}
		rows = append(rows, []string{
			string(s.Kind),
			s.DisplayState(),
			fmt.Sprintf("%d/%d", s.Processed, s.Total),
			fmt.Sprintf("%d", s.ResultCount),
			formatTime(s.StartedAt),
			formatTime(s.CompletedAt),
			errMsg,
		})
	}
	return renderTable(
		[]string{"Job", "Status", "Progress", "Results", "Started", "Completed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
