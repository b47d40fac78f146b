package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/exoplanet-api/internal/logger"
	"github.com/Brownie44l1/exoplanet-api/internal/prediction"
)

// ScoreCmd scores a CSV file offline with the same all-or-nothing policy as
// the batch endpoint.
func ScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a CSV file and write the predictions as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			modelServer, err := openModel(cfg)
			if err != nil {
				return err
			}
			defer modelServer.Close()

			scorer := prediction.NewScorer(modelServer, prediction.WithWorkers(cfg.Batch.Workers))
			return scoreFile(cmd, scorer, input, output)
		},
	}
	cmd.Flags().StringP("input", "i", "", "CSV file to score (- for stdin)")
	cmd.Flags().StringP("output", "o", "-", "Destination CSV file (- for stdout)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func scoreFile(cmd *cobra.Command, scorer *prediction.Scorer, input, output string) error {
	var in io.Reader = cmd.InOrStdin()
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	records, err := prediction.ReadBatchCSV(in)
	if err != nil {
		return err
	}
	table, err := scorer.Score(cmd.Context(), records)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := table.WriteCSV(out); err != nil {
		return err
	}
	logger.Info("Scored file", "rows", len(table.Rows), "input", input, "output", output)
	return nil
}
