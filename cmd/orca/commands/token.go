package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/orca/internal/auth"
	"github.com/slok/orca/internal/conventions"
)

type TokenCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	operator    string
	ttl         time.Duration
	tokenSecret string
}

// NewTokenCommand returns the token command.
func NewTokenCommand(rootCmd *RootCommand, app *kingpin.Application) *TokenCommand {
	c := &TokenCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("token", "Issue an API bearer token.")
	c.Cmd.Flag("operator", "Name of the operator the token is issued to.").Required().StringVar(&c.operator)
	c.Cmd.Flag("ttl", "Token validity.").Default("24h").DurationVar(&c.ttl)
	c.Cmd.Flag("token-secret", "Secret to sign the token.").Envar(conventions.TokenSecretEnv).Required().StringVar(&c.tokenSecret)

	return c
}

func (c TokenCommand) Name() string { return c.Cmd.FullCommand() }

func (c TokenCommand) Run(ctx context.Context) error {
	a, err := auth.NewAuthenticator(c.tokenSecret)
	if err != nil {
		return fmt.Errorf("could not create authenticator: %w", err)
	}

	token, err := a.Generate(c.operator, c.ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.rootCmd.Stdout, token)
	return err
}
