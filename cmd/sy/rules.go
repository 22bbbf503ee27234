package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/handoff"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and update handoff rules",
	}

	cmd.AddCommand(newRulesShowCmd())
	cmd.AddCommand(newRulesSetCmd())
	return cmd
}

func newRulesShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the handoff rules in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			r := handoff.DefaultRules()
			data, err := os.ReadFile(cfg.Handoff.RulesPath)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				fmt.Fprintf(cmd.ErrOrStderr(), "%s does not exist; showing defaults\n", cfg.Handoff.RulesPath)
			case err != nil:
				return fmt.Errorf("read rules: %w", err)
			default:
				if r, err = handoff.ParseRules(data); err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newRulesSetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set <rules.json>",
		Short: "Replace the handoff rules file",
		Long:  "Validates a rules document and writes it to the configured rules path. A running relay reloads it automatically.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			_, rf, err := buildPolicy(cfg)
			if err != nil {
				return err
			}
			r, err := rf.Update(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rules written to %s (version %d, %d keywords, %d auto-handoff topics)\n",
				rf.Path(), r.Version, len(r.Keywords), len(r.AutoHandoffTopics))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
