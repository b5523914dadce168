package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ayusman/signavatar/internal/pose"
)

func newLabelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the gesture labels and their avatar poses",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			pc, err := ctx.pipelineConfig(st)
			if err != nil {
				return err
			}
			table, err := loadPoses(pc.Labels, st)
			if err != nil {
				return err
			}

			defaults := pose.Defaults()
			rows := make([][]string, 0, len(pc.Labels))
			for i, label := range pc.Labels {
				source := "rest"
				switch {
				case table.Overridden(label):
					source = "stored"
				case defaults[label].Bones != nil:
					source = "built-in"
				}
				rows = append(rows, []string{
					strconv.Itoa(i),
					label,
					source,
					strconv.Itoa(len(table.Lookup(label).Bones)),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"#", "Label", "Pose", "Bones"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
			fmt.Fprintf(out, "Threshold: %v\n", pc.Threshold)
			return nil
		},
	}
}
