package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ayusman/signavatar/internal/classifier"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Model utilities",
	}
	modelCmd.AddCommand(newModelInspectCommand(ctx))
	return modelCmd
}

func newModelInspectCommand(ctx *commandContext) *cobra.Command {
	var load bool

	cmd := &cobra.Command{
		Use:   "inspect [description]",
		Short: "Show a model description and check it against the configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.Model.Path
			if len(args) == 1 {
				path = args[0]
			}

			desc, err := classifier.ReadDescriptor(path)
			if err != nil {
				return err
			}
			pc := cfg.PipelineConfig()
			shape := pc.Shape()

			rows := [][]string{
				{"Description", path},
				{"Format", desc.Format},
				{"Weights", desc.WeightsPath()},
				{"Input shape", formatShape(desc.InputShape)},
				{"Output shape", formatShape(desc.OutputShape)},
				{"Expected", shape.String()},
			}
			if len(desc.Labels) > 0 {
				rows = append(rows, []string{"Labels", strings.Join(desc.Labels, ", ")})
			}

			status := "compatible"
			validateErr := desc.Validate(shape, pc.Labels)
			if validateErr != nil {
				status = validateErr.Error()
			}
			rows = append(rows, []string{"Status", status})

			if load && validateErr == nil {
				pc.Warmup = true
				m, err := ctx.loadModel(pc)
				if err != nil {
					return err
				}
				info := m.Info()
				m.Close()
				rows = append(rows, []string{"Warmup", info.Warmup.String()})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return validateErr
		},
	}

	cmd.Flags().BoolVar(&load, "load", false, "Open the network and time a warmup inference")
	return cmd
}

func formatShape(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
