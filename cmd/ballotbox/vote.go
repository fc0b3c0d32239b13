package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ballotbox/models"
)

func voteCommand() *cobra.Command {
	var voter, password, candidate string
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Cast a vote for a candidate by username or full name",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			e, err := openElection(cmd.Context(), cfg, loggerFrom(cmd), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Authenticate(cmd.Context(), voter, password, models.LoginVoter); err != nil {
				return err
			}
			record, err := e.CastVote(cmd.Context(), voter, candidate)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Vote recorded for %s (%s)\n", candidate, record.Role)
			fmt.Fprintf(out, "Receipt: %s\n", record.Receipt)
			return nil
		},
	}
	cmd.Flags().StringVar(&voter, "voter", "", "voter username")
	cmd.Flags().StringVar(&password, "password", "", "voter password")
	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate username or full name")
	for _, name := range []string{"voter", "password", "candidate"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func resultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Show the current tally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			e, err := openElection(cmd.Context(), cfg, loggerFrom(cmd), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			results := e.Results()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CANDIDATE\tPARTY\tROLE\tVOTES\tSHARE")
			for _, entry := range results.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\n",
					entry.Name, entry.Party, entry.Role, humanize.Comma(int64(entry.Votes)), entry.Percentage)
			}
			fmt.Fprintf(tw, "Total\t\t\t%s\t\n", humanize.Comma(int64(results.TotalVotes)))
			if err := tw.Flush(); err != nil {
				return err
			}
			if !results.Consistent {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s ballots recorded but counters sum to %s\n",
					humanize.Comma(int64(results.Ballots)), humanize.Comma(int64(results.TotalVotes)))
			}
			return nil
		},
	}
}

// adminFlags registers the credentials every admin-only command takes.
func adminFlags(cmd *cobra.Command, username, password *string) {
	cmd.Flags().StringVar(username, "admin", "admin", "administrator username")
	cmd.Flags().StringVar(password, "admin-password", "", "administrator password")
	_ = cmd.MarkFlagRequired("admin-password")
}

func resetCommand() *cobra.Command {
	var admin, password string
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Zero all tallies and clear the vote history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			e, err := openElection(cmd.Context(), cfg, loggerFrom(cmd), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Authenticate(cmd.Context(), admin, password, models.LoginAdmin); err != nil {
				return err
			}
			if err := e.ResetElection(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Election reset")
			return nil
		},
	}
	adminFlags(cmd, &admin, &password)
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func exportCommand() *cobra.Command {
	var admin, password string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a timestamped results file to the export directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			e, err := openElection(cmd.Context(), cfg, loggerFrom(cmd), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Authenticate(cmd.Context(), admin, password, models.LoginAdmin); err != nil {
				return err
			}
			path, err := e.ExportResults(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Results exported to %s\n", path)
			return nil
		},
	}
	adminFlags(cmd, &admin, &password)
	return cmd
}
