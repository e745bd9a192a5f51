package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/regctl/internal/config"
)

func newFieldsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fields [domain|jid]",
		Short: "Show the registration form a server asks for",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd.Context(), firstArg(args), nil, false)
		},
	}
}

func newRegisterCmd(a *app) *cobra.Command {
	var values map[string]string
	cmd := &cobra.Command{
		Use:   "register [domain|jid]",
		Short: "Register a new account",
		Long: "register fetches the server's registration form, fills it from --set values " +
			"and interactive answers, and submits it. Without a domain the configured " +
			"registration_domain is used, or the server is asked for on stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.execute(cmd.Context(), firstArg(args), values, true)
		},
	}
	cmd.Flags().StringToStringVar(&values, "set", nil, "field values as key=value (repeatable)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the regctl configuration file",
		// Subcommands load the file themselves; init must work without one.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}

	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a commented starter config",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], overwrite); err != nil {
				return err
			}
			a.printf("wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a.opts.configPath = args[0]
			if err := a.loadConfig(); err != nil {
				return err
			}
			a.printf("%s: ok\n", args[0])
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.loadConfig(); err != nil {
				return err
			}
			if err := config.Encode(a.out, a.cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd, showCmd)
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
