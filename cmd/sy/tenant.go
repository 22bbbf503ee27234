package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/switchyard/internal/vault"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant CRM credentials",
	}

	cmd.AddCommand(newTenantSetCmd())
	cmd.AddCommand(newTenantShowCmd())
	cmd.AddCommand(newTenantListCmd())
	cmd.AddCommand(newTenantRmCmd())
	return cmd
}

func openVault(configPath string) (*vault.SQLVault, error) {
	_, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return nil, err
	}
	return vault.NewSQLVault(gormDB)
}

func newTenantSetCmd() *cobra.Command {
	var (
		configPath string
		cred       vault.Credential
		expiresIn  int
	)

	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Store a tenant's OAuth credential",
		Long: `Stores the access and refresh token a tenant issued to the relay,
replacing any previous credential. When --access-token is omitted and stdin
is a terminal, the tokens are prompted for without echo.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred.TenantID = args[0]
			if expiresIn > 0 {
				cred.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
			}
			return runTenantSet(cmd, configPath, cred)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&cred.AccessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&cred.RefreshToken, "refresh-token", "", "OAuth refresh token")
	cmd.Flags().StringVar(&cred.Scope, "scope", "", "granted scopes")
	cmd.Flags().IntVar(&expiresIn, "expires-in", 0, "access token lifetime in seconds")
	return cmd
}

func runTenantSet(cmd *cobra.Command, configPath string, cred vault.Credential) error {
	out := cmd.OutOrStdout()
	if cred.AccessToken == "" {
		var err error
		if cred.AccessToken, err = promptSecret(cmd, "Access token: "); err != nil {
			return err
		}
		if cred.RefreshToken == "" {
			if cred.RefreshToken, err = promptSecret(cmd, "Refresh token (optional): "); err != nil {
				return err
			}
		}
	}
	if cred.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}

	v, err := openVault(configPath)
	if err != nil {
		return err
	}
	if err := v.Save(cmd.Context(), cred); err != nil {
		return err
	}
	fmt.Fprintf(out, "Credential stored for tenant %s\n", cred.TenantID)
	return nil
}

// promptSecret reads a line without echo from a terminal, or plainly from
// piped input.
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newTenantShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Show a tenant's credential with tokens masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(configPath)
			if err != nil {
				return err
			}
			cred, err := v.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tenant:        %s\n", cred.TenantID)
			fmt.Fprintf(out, "Access token:  %s\n", mask(cred.AccessToken))
			fmt.Fprintf(out, "Refresh token: %s\n", mask(cred.RefreshToken))
			if !cred.Expiry.IsZero() {
				fmt.Fprintf(out, "Expires:       %s\n", cred.Expiry.Format(time.RFC3339))
			}
			if cred.Scope != "" {
				fmt.Fprintf(out, "Scope:         %s\n", cred.Scope)
			}
			fmt.Fprintf(out, "Updated:       %s\n", cred.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newTenantListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List onboarded tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(configPath)
			if err != nil {
				return err
			}
			creds, err := v.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(creds) == 0 {
				fmt.Fprintln(out, "No tenants onboarded.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tEXPIRES\tUPDATED")
			for _, c := range creds {
				expires := "-"
				if !c.Expiry.IsZero() {
					expires = c.Expiry.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.TenantID, expires, c.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newTenantRmCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rm <tenant-id>",
		Short: "Remove a tenant's credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault(configPath)
			if err != nil {
				return err
			}
			if err := v.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Credential removed for tenant %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// mask keeps the last four characters of a secret.
func mask(s string) string {
	switch {
	case s == "":
		return "-"
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
