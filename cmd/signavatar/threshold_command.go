package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ayusman/signavatar/internal/store"
)

func newThresholdCommand(ctx *commandContext) *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "threshold [value]",
		Short: "Show or store the decision threshold",
		Long: "Without arguments, prints the effective decision threshold. With a value in [0, 1),\n" +
			"stores it so it overrides pipeline.threshold for later serve and run commands.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			switch {
			case clear:
				if err := st.Settings().Delete(store.SettingThreshold); err != nil {
					return err
				}
			case len(args) == 1:
				threshold, err := parseThreshold(args[0])
				if err != nil {
					return err
				}
				if err := st.Settings().Set(store.SettingThreshold, strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
					return err
				}
			}

			pc, err := ctx.pipelineConfig(st)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Threshold: %v\n", pc.Threshold)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Forget the stored threshold")
	return cmd
}
