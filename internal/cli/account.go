package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/gitaccounts/internal/application"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// AccountOutput represents an account in JSON output.
type AccountOutput struct {
	Kind         string            `json:"kind"`
	Username     string            `json:"username"`
	URL          string            `json:"url"`
	CustomURL    bool              `json:"custom_url"`
	TLS          model.TLSSettings `json:"tls"`
	Repositories int               `json:"repositories"`
	Error        string            `json:"error,omitempty"`
}

// RepositoryOutput represents a repository in JSON output.
type RepositoryOutput struct {
	FullName string `json:"full_name"`
	HTTPSURL string `json:"https_url,omitempty"`
	SSHURL   string `json:"ssh_url,omitempty"`
	Path     string `json:"path,omitempty"`
}

func toAccountOutput(a *application.Account) AccountOutput {
	out := AccountOutput{
		Kind:         a.Kind().String(),
		Username:     a.Username(),
		URL:          a.URL(),
		CustomURL:    a.HasCustomURL(),
		TLS:          a.Config().TLS,
		Repositories: a.RepositoryCount(),
	}
	if accErr := a.Error(); accErr.IsValid() {
		out.Error = accErr.Error()
	}
	return out
}

func toRepositoryOutputs(a *application.Account) []RepositoryOutput {
	return lo.Map(a.Repositories(), func(r *model.Repository, _ int) RepositoryOutput {
		return RepositoryOutput{
			FullName: r.FullName,
			HTTPSURL: r.URL(model.ProtocolHTTPS),
			SSHURL:   r.URL(model.ProtocolSSH),
			Path:     a.RepositoryPath(r.FullName),
		}
	})
}

// accountFlags identify the account a subcommand acts on.
type accountFlags struct {
	kind     string
	username string
}

func (f *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "kind", "k", "", "Provider kind (github, gitlab, bitbucket, beanstalk)")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Account username")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("username")
}

// withApp opens the application for the duration of fn.
func (cli *CLI) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx, cli.Config, cli.Logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// newAccountCmd creates the account command and its subcommands.
func (cli *CLI) newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage hosting accounts",
	}

	cmd.AddCommand(
		cli.newAccountListCmd(),
		cli.newAccountAddCmd(),
		cli.newAccountRemoveCmd(),
		cli.newAccountConnectCmd(),
		cli.newAccountReposCmd(),
		cli.newAccountSetPathCmd(),
		cli.newAccountAuthorizeCmd(),
	)
	return cmd
}

func (cli *CLI) newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.withApp(cmd.Context(), func(a *app) error {
				data := lo.Map(a.registry.Accounts(), func(acc *application.Account, _ int) AccountOutput {
					return toAccountOutput(acc)
				})
				return cli.out.Write(data, func(io.Writer) error {
					return cli.out.Table([]string{"KIND", "USERNAME", "URL"}, lo.Map(data, func(o AccountOutput, _ int) []string {
						return []string{o.Kind, o.Username, o.URL}
					}))
				})
			})
		},
	}
}

func (cli *CLI) newAccountAddCmd() *cobra.Command {
	var (
		id              accountFlags
		url             string
		pkcs12          string
		cert            string
		certKey         string
		caCert          string
		replace         bool
		tokenStdin      bool
		passphraseStdin bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account",
		Long: `Add an account and save it.

With --token-stdin the account is connected with the token read from stdin.
The token, and the PKCS#12 passphrase if any, are stored only when the
connection succeeds; otherwise the account is not added.

Examples:
  # Add a GitLab account on a self-hosted instance
  gitaccounts account add -k gitlab -u alice --url https://git.corp.example/api/v4

  # Add a GitHub account and verify its token
  echo "$TOKEN" | gitaccounts account add -k github -u alice --token-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenStdin && passphraseStdin {
				return errors.New("--token-stdin and --pkcs12-passphrase-stdin cannot be combined")
			}
			kind, err := model.ParseKind(id.kind)
			if err != nil {
				return err
			}

			var secret, passphrase string
			if tokenStdin {
				if secret, err = readSecret(cli.stdin); err != nil {
					return err
				}
			}
			if passphraseStdin {
				if pkcs12 == "" {
					return errors.New("--pkcs12-passphrase-stdin needs --pkcs12")
				}
				if passphrase, err = readSecret(cli.stdin); err != nil {
					return err
				}
			}

			tls := model.TLSSettings{
				PKCS12File:  setting(pkcs12),
				CertFile:    setting(cert),
				CertKeyFile: setting(certKey),
				CACertFile:  setting(caCert),
			}

			ctx := cmd.Context()
			return cli.withApp(ctx, func(a *app) error {
				var acc *application.Account
				if replace {
					acc, err = a.registry.Replace(kind, id.username, url, tls)
				} else {
					acc, err = a.registry.CreateAccount(kind, id.username, url)
					if err == nil {
						acc.SetTLS(tls)
					}
				}
				if err != nil {
					return err
				}

				if secret != "" {
					if err := a.registry.ConnectAndStore(ctx, acc, secret); err != nil {
						return fmt.Errorf("connect %s/%s: %w", kind, acc.Username(), err)
					}
				}
				if passphrase != "" {
					if err := a.registry.SetPKCS12Passphrase(ctx, acc, passphrase); err != nil {
						return err
					}
				}

				if err := a.save(ctx); err != nil {
					return err
				}
				return cli.out.Write(toAccountOutput(acc), func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Added %s account %s (%s)\n", acc.Name(), acc.Username(), acc.URL())
					return err
				})
			})
		},
	}

	id.register(cmd)
	cmd.Flags().StringVar(&url, "url", "", "API base URL override")
	cmd.Flags().StringVar(&pkcs12, "pkcs12", "", "PKCS#12 client certificate bundle")
	cmd.Flags().StringVar(&cert, "cert", "", "PEM client certificate")
	cmd.Flags().StringVar(&certKey, "cert-key", "", "PEM client private key")
	cmd.Flags().StringVar(&caCert, "ca-cert", "", "PEM CA certificate")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace an existing account with the same kind and username")
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "Read the access token from stdin and verify it")
	cmd.Flags().BoolVar(&passphraseStdin, "pkcs12-passphrase-stdin", false, "Read the PKCS#12 passphrase from stdin")
	return cmd
}

func (cli *CLI) newAccountRemoveCmd() *cobra.Command {
	var (
		id     accountFlags
		forget bool
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return cli.withApp(ctx, func(a *app) error {
				acc, err := a.lookup(id.kind, id.username)
				if err != nil {
					return err
				}
				if forget {
					if err := a.registry.DeleteCredential(ctx, acc); err != nil {
						return fmt.Errorf("delete credential: %w", err)
					}
				}
				if err := a.registry.RemoveAccount(acc); err != nil {
					return err
				}
				if err := a.save(ctx); err != nil {
					return err
				}
				if !cli.out.IsJSON() {
					fmt.Fprintf(cli.stdout, "Removed %s account %s\n", acc.Name(), acc.Username())
				}
				return nil
			})
		},
	}

	id.register(cmd)
	cmd.Flags().BoolVar(&forget, "forget", false, "Also delete the stored credential")
	return cmd
}

func (cli *CLI) newAccountConnectCmd() *cobra.Command {
	var (
		id         accountFlags
		tokenStdin bool
		store      bool
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect an account and list its repositories",
		Long: `Connect an account, wait for the provider to answer and print the
repositories it can see, or the error.

Without --token-stdin the stored credential is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if store && !tokenStdin {
				return errors.New("--store needs --token-stdin")
			}
			var token string
			if tokenStdin {
				var err error
				if token, err = readSecret(cli.stdin); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			return cli.withApp(ctx, func(a *app) error {
				acc, err := a.lookup(id.kind, id.username)
				if err != nil {
					return err
				}
				if err := connectAndWait(ctx, acc, token); err != nil {
					return err
				}
				if store {
					if err := a.registry.SetCredential(ctx, acc, token); err != nil {
						return fmt.Errorf("store credential: %w", err)
					}
				}
				return cli.writeRepositories(acc)
			})
		},
	}

	id.register(cmd)
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "Read the access token from stdin")
	cmd.Flags().BoolVar(&store, "store", false, "Store the token when the connection succeeds")
	return cmd
}

func (cli *CLI) newAccountReposCmd() *cobra.Command {
	var id accountFlags

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List the repositories of an account with their local paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return cli.withApp(ctx, func(a *app) error {
				acc, err := a.lookup(id.kind, id.username)
				if err != nil {
					return err
				}
				if err := connectAndWait(ctx, acc, ""); err != nil {
					return err
				}
				return cli.writeRepositories(acc)
			})
		},
	}

	id.register(cmd)
	return cmd
}

func (cli *CLI) newAccountSetPathCmd() *cobra.Command {
	var (
		id   accountFlags
		repo string
		path string
	)

	cmd := &cobra.Command{
		Use:   "set-path",
		Short: "Record the local checkout path of a repository",
		Long: `Record the local checkout path of a repository, identified by its full
name. An empty --path clears the mapping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return cli.withApp(ctx, func(a *app) error {
				acc, err := a.lookup(id.kind, id.username)
				if err != nil {
					return err
				}
				acc.SetRepositoryPath(repo, path)
				return a.save(ctx)
			})
		},
	}

	id.register(cmd)
	cmd.Flags().StringVar(&repo, "repo", "", "Repository full name (owner/name)")
	cmd.Flags().StringVar(&path, "path", "", "Local checkout path")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func (cli *CLI) newAccountAuthorizeCmd() *cobra.Command {
	var id accountFlags

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Authorize an account in the browser and store the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return cli.withApp(ctx, func(a *app) error {
				acc, err := a.lookup(id.kind, id.username)
				if err != nil {
					return err
				}
				supported, err := acc.Authorize(ctx)
				if !supported {
					return fmt.Errorf("%s does not support browser authorization", acc.Name())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cli.stdout, "Authorized %s account %s\n", acc.Name(), acc.Username())
				return nil
			})
		},
	}

	id.register(cmd)
	return cmd
}

// connectAndWait runs one attempt to completion.
func connectAndWait(ctx context.Context, acc *application.Account, token string) error {
	if err := acc.Connect(ctx, token).Wait(ctx); err != nil {
		return fmt.Errorf("connect %s/%s: %w", acc.Kind(), acc.Username(), err)
	}
	return nil
}

func (cli *CLI) writeRepositories(acc *application.Account) error {
	data := toRepositoryOutputs(acc)
	return cli.out.Write(data, func(w io.Writer) error {
		if len(data) == 0 {
			_, err := fmt.Fprintln(w, "No repositories")
			return err
		}
		return cli.out.Table([]string{"#", "REPOSITORY", "CLONE URL", "PATH"}, lo.Map(data, func(r RepositoryOutput, i int) []string {
			return []string{strconv.Itoa(i + 1), r.FullName, lo.CoalesceOrEmpty(r.SSHURL, r.HTTPSURL), r.Path}
		}))
	})
}

// readSecret reads the first line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret on stdin")
	}
	return secret, nil
}

func setting(path string) model.TLSSetting {
	return model.TLSSetting{Value: path, Enabled: path != ""}
}
