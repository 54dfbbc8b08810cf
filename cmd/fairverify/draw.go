package main

import (
	"fmt"

	"github.com/jason-s-yu/fairtable/internal/rng"
	"github.com/spf13/cobra"
)

func newDrawCmd() *cobra.Command {
	var (
		seed     string
		index    int
		count    int
		min, max int64
	)
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Reproduce RNG draws of a round from its revealed seed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for i := index; i < index+count; i++ {
				n, err := rng.DeriveNumber(seed, i, min, max)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\n", i, n); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seed, "server-seed", "", "revealed server seed")
	cmd.Flags().IntVar(&index, "index", 0, "sequence index of the first draw")
	cmd.Flags().IntVar(&count, "count", 1, "number of consecutive draws")
	cmd.Flags().Int64Var(&min, "min", 0, "lower bound, inclusive")
	cmd.Flags().Int64Var(&max, "max", 0, "upper bound, inclusive")
	_ = cmd.MarkFlagRequired("server-seed")
	_ = cmd.MarkFlagRequired("max")
	return cmd
}
