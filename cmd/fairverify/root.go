package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "fairverify",
		Short:        "Verify revealed seeds, round outcomes and RNG draws",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		newCommitmentCmd(),
		newOutcomeCmd(),
		newDrawCmd(),
	)
	return rootCmd
}
