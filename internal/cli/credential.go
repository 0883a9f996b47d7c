package cli

import (
	"io"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

const maskedSecret = "********"

// CredentialOutput describes a stored credential. The secret is always masked.
type CredentialOutput struct {
	Service   string     `json:"service"`
	Username  string     `json:"username"`
	Secret    string     `json:"secret"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (cli *CLI) newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Inspect stored credentials",
	}
	cmd.AddCommand(cli.newCredentialListCmd())
	return cmd
}

func (cli *CLI) newCredentialListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials with their secrets masked",
		Long: `List stored credentials with their secrets masked.

The encrypted sqlite backend lists every entry. The OS keyring cannot be
enumerated, so only the secrets of saved accounts are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.withApp(cmd.Context(), func(a *app) error {
				creds, err := a.registry.Credentials(cmd.Context())
				if err != nil {
					return err
				}
				data := lo.Map(creds, func(c model.Credential, _ int) CredentialOutput {
					out := CredentialOutput{Service: c.Service, Username: c.Username, Secret: maskedSecret}
					if !c.UpdatedAt.IsZero() {
						out.UpdatedAt = &c.UpdatedAt
					}
					return out
				})
				return cli.out.Write(data, func(io.Writer) error {
					return cli.out.Table([]string{"SERVICE", "USERNAME", "SECRET"}, lo.Map(data, func(o CredentialOutput, _ int) []string {
						return []string{o.Service, o.Username, o.Secret}
					}))
				})
			})
		},
	}
}
