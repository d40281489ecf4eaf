package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/usecase"
	"github.com/spf13/cobra"
)

type tokenFlags struct {
	secret string
	ttl    time.Duration
}

func newTokenCommand() *cobra.Command {
	flags := &tokenFlags{}

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an HS256 bearer token for the API",
		Long: `Mint an HS256 bearer token for the workchain API. The secret defaults to
the JWT_SECRET environment variable used by the server.

Examples:
  pwchain token alice --ttl 72h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := flags.secret
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return errors.New("no signing secret: set JWT_SECRET or pass --secret")
			}

			token, err := usecase.NewTokenIssuer([]byte(secret)).Issue(args[0], flags.ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&flags.secret, "secret", "", "HS256 signing secret (default $JWT_SECRET)")
	cmd.Flags().DurationVar(&flags.ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
