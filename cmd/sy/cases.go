package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/switchyard/internal/handoff"
)

func newCasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Manage handoff cases",
	}

	cmd.AddCommand(newCasesListCmd())
	cmd.AddCommand(newCasesAssignCmd())
	cmd.AddCommand(newCasesResolveCmd())
	return cmd
}

func openCases(configPath string) (*handoff.CaseStore, error) {
	_, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return nil, err
	}
	return handoff.NewCaseStore(gormDB)
}

func newCasesListCmd() *cobra.Command {
	var (
		configPath string
		filter     handoff.CaseFilter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List handoff cases, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCases(configPath)
			if err != nil {
				return err
			}
			cases, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cases) == 0 {
				fmt.Fprintln(out, "No cases found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTENANT\tCONTACT\tASSIGNEE\tAGE")
			for _, c := range cases {
				assignee := c.AssignedTo
				if assignee == "" {
					assignee = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Status, c.TenantID, c.ContactAddress, assignee, time.Since(c.CreatedAt).Round(time.Minute))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&filter.Status, "status", "", "filter by status (open, assigned, resolved)")
	cmd.Flags().StringVar(&filter.TenantID, "tenant", "", "filter by tenant")
	cmd.Flags().StringVar(&filter.Contact, "contact", "", "filter by contact address")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum cases to show")
	return cmd
}

func newCasesAssignCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "assign <case-id> <assignee>",
		Short: "Assign a case to an operator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCases(configPath)
			if err != nil {
				return err
			}
			c, err := store.Assign(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Case %s assigned to %s\n", c.ID, c.AssignedTo)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newCasesResolveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "resolve <case-id>",
		Short: "Mark a case resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCases(configPath)
			if err != nil {
				return err
			}
			c, err := store.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Case %s resolved\n", c.ID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
