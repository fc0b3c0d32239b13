package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ballotbox/registry"
)

func adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	cmd.AddCommand(adminInitCommand())
	cmd.AddCommand(adminPasswdCommand())
	cmd.AddCommand(adminAddCommand())
	cmd.AddCommand(adminRenameCommand())
	return cmd
}

func adminInitCommand() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the first administrator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			store, crypto, err := openStore(cfg, loggerFrom(cmd))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := registry.InitAdmin(cmd.Context(), store, crypto, username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Administrator %s created\n", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", registry.DefaultAdminUsername, "administrator username")
	cmd.Flags().StringVar(&password, "password", "", "administrator password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func adminPasswdCommand() *cobra.Command {
	var username, current, next string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change an administrator password",
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

			if err := e.Registry().ChangeAdminPassword(cmd.Context(), username, current, next); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", registry.DefaultAdminUsername, "administrator username")
	cmd.Flags().StringVar(&current, "current", "", "current password")
	cmd.Flags().StringVar(&next, "new", "", "new password")
	_ = cmd.MarkFlagRequired("current")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func adminAddCommand() *cobra.Command {
	var acting, actingPassword, username, password string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create another administrator",
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

			if err := e.Registry().CreateAdmin(cmd.Context(), acting, actingPassword, username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Administrator %s created\n", username)
			return nil
		},
	}
	adminFlags(cmd, &acting, &actingPassword)
	cmd.Flags().StringVar(&username, "username", "", "new administrator username")
	cmd.Flags().StringVar(&password, "password", "", "new administrator password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func adminRenameCommand() *cobra.Command {
	var username, password, newUsername string
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Change an administrator username",
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

			if err := e.Registry().RenameAdmin(cmd.Context(), username, password, newUsername); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Administrator %s renamed to %s\n", username, newUsername)
			return nil
		},
	}
	adminFlags(cmd, &username, &password)
	cmd.Flags().StringVar(&newUsername, "to", "", "new username")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
