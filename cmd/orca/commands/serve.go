package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/orca/internal/api"
	"github.com/slok/orca/internal/auth"
	"github.com/slok/orca/internal/channel/websocket"
	"github.com/slok/orca/internal/conventions"
	"github.com/slok/orca/internal/engine"
	enginefake "github.com/slok/orca/internal/engine/fake"
	"github.com/slok/orca/internal/remote"
)

const serveShutdownTimeout = 30 * time.Second

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	flags runFlags

	listenAddr  string
	tokenSecret string
	fake        bool
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Serve the task API and the task channels over HTTP and websockets.")
	c.Cmd.Flag("listen", "Listen address.").Default(":8080").StringVar(&c.listenAddr)
	c.Cmd.Flag("token-secret", "Secret to verify the API bearer tokens, without it the API is not authenticated.").Envar(conventions.TokenSecretEnv).StringVar(&c.tokenSecret)
	c.Cmd.Flag("fake", "Use an in-memory scripted host instead of SSH.").BoolVar(&c.fake)
	c.flags.register(c.Cmd)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	rc, err := c.flags.load(ctx, c.rootCmd.DataDir)
	if err != nil {
		return err
	}

	var provider remote.Provider
	if c.fake {
		provider = enginefake.NewHost(enginefake.HostConfig{}).Provider()
	}

	e, err := engine.New(engine.Config{
		Settings: rc,
		Provider: provider,
		LocksDir: conventions.LocksPath(c.rootCmd.DataDir),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	s, baseDir, err := engine.LoadStack(ctx, rc.StackPath)
	if err != nil {
		return fmt.Errorf("could not load stack: %w", err)
	}

	creds, err := engine.Credentials(rc)
	if err != nil {
		return err
	}

	var authn *auth.Authenticator
	if c.tokenSecret != "" {
		authn, err = auth.NewAuthenticator(c.tokenSecret)
		if err != nil {
			return fmt.Errorf("could not create authenticator: %w", err)
		}
	} else {
		logger.Warningf("No token secret set, the API is not authenticated")
	}

	ws, err := websocket.NewHandler(websocket.HandlerConfig{Manager: e.Channels, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create websocket handler: %w", err)
	}

	handler, err := api.NewHandler(api.HandlerConfig{
		Starter:       e.Starter,
		Getter:        e.Status,
		Submitter:     e.Input,
		Channels:      ws,
		Definition:    engine.DefinitionFor(s, baseDir, logger),
		Credentials:   creds,
		Authenticator: authn,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not create API handler: %w", err)
	}

	server := &http.Server{
		Addr:              c.listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group

	// HTTP server.
	{
		g.Add(
			func() error {
				logger.Infof("HTTP server listening on %s", c.listenAddr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				sctx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
				defer cancel()

				if err := server.Shutdown(sctx); err != nil {
					logger.Warningf("could not shutdown HTTP server: %v", err)
				}
				if err := e.Shutdown(sctx); err != nil {
					logger.Warningf("running tasks didn't end: %v", err)
				}
			},
		)
	}

	// Stop on context cancellation.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-ctx.Done()
				logger.Debugf("Stopping server")
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}
