package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent capture sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.Sessions().List(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded")
				return nil
			}

			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				duration := "open"
				if s.EndedAt != nil {
					duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
				}
				rows = append(rows, []string{
					shortID(s.ID),
					s.Source,
					s.StartedAt.Local().Format("2006-01-02 15:04:05"),
					duration,
					strconv.FormatUint(s.Frames, 10),
					strconv.FormatUint(s.Decisions, 10),
					strconv.FormatUint(s.Dropped, 10),
					strconv.FormatUint(s.Malformed+s.Failures, 10),
					s.LastLabel,
				})
			}

			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Source", "Started", "Duration", "Frames", "Decisions", "Dropped", "Errors", "Last sign"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to show (0 for all)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
