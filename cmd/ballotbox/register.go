package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ballotbox/models"
)

// loadForm reads a registration form from a YAML file.
func loadForm(path string) (models.RegistrationForm, error) {
	var form models.RegistrationForm
	buf, err := os.ReadFile(path)
	if err != nil {
		return form, fmt.Errorf("error reading form: %w", err)
	}
	if err := yaml.Unmarshal(buf, &form); err != nil {
		return form, fmt.Errorf("error parsing form: %w", err)
	}
	return form, nil
}

func registerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register voters and candidates",
	}
	cmd.AddCommand(registerKindCommand("voter"))
	cmd.AddCommand(registerKindCommand("candidate"))
	return cmd
}

func registerKindCommand(kind string) *cobra.Command {
	var formPath string
	cmd := &cobra.Command{
		Use:   kind,
		Short: "Register a " + kind + " from a YAML form",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			form, err := loadForm(formPath)
			if err != nil {
				return err
			}
			e, err := openElection(cmd.Context(), cfg, loggerFrom(cmd), nil)
			if err != nil {
				return err
			}
			defer e.Close()

			var record models.VoterRecord
			if kind == "candidate" {
				record, err = e.RegisterCandidate(cmd.Context(), form)
			} else {
				record, err = e.RegisterVoter(cmd.Context(), form)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s %s (%s)\n", kind, record.Username, record.FullName)
			return nil
		},
	}
	cmd.Flags().StringVar(&formPath, "form", "", "path to the YAML registration form")
	_ = cmd.MarkFlagRequired("form")
	return cmd
}
