package cli

import (
	"io"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// KindOutput describes a provider kind for JSON output.
type KindOutput struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Help string `json:"help"`
}

// newKindsCmd creates the kinds command.
func (cli *CLI) newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the supported hosting providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds := newClientProvider(cli.Config, cli.Logger).Kinds()
			data := lo.Map(kinds, func(k model.Kind, _ int) KindOutput {
				return KindOutput{Kind: k.String(), Name: k.DisplayName(), Help: k.HelpText()}
			})
			return cli.out.Write(data, func(io.Writer) error {
				return cli.out.Table([]string{"KIND", "NAME", "CREDENTIAL"}, lo.Map(data, func(k KindOutput, _ int) []string {
					return []string{k.Kind, k.Name, k.Help}
				}))
			})
		},
	}
}
