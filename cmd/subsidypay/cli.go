package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"subsidypay/internal/access"
	"subsidypay/internal/config"
	"subsidypay/internal/server/bootstrap"
	"subsidypay/internal/session"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// errOutcomeFailed makes `run` exit non-zero after printing a failure.
var errOutcomeFailed = errors.New("service run failed")

type cli struct {
	v          *viper.Viper
	configFile string
	envDir     string
	out        io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "subsidypay",
		Short: "Sponsored service access gateway",
		Long: `subsidypay exposes sponsored services to agent hosts.

A service run is covered by a sponsor when the caller has completed the
sponsor's task, and falls back to a direct payment challenge otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (yaml)")
	flags.StringVar(&c.envDir, "env-dir", ".", "directory holding .env and .env.local")
	flags.String("backend-url", "", "campaign backend base url")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	_ = c.v.BindPFlag("backend.url", flags.Lookup("backend-url"))
	_ = c.v.BindPFlag("logging.level", flags.Lookup("log-level"))

	root.AddCommand(c.serveCommand(), c.runCommand(), c.versionCommand())
	return root
}

func (c *cli) loadConfig() (config.Config, error) {
	if c.envDir != "" {
		if err := config.LoadEnvFiles(c.envDir); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(c.v, c.configFile)
}

func (c *cli) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool surface over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return bootstrap.RunServer(ctx, cfg, Version)
		},
	}
	cmd.Flags().Int("port", 0, "listen port")
	_ = c.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

type runOptions struct {
	sessionToken string
	email        string
	jsonOutput   bool
}

func (c *cli) runCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <service> <input>",
		Short: "Resolve and run one service from the terminal",
		Long: `Resolve one service run the way the run_service tool does.

Pass the sentinel input __pay_direct__ to skip sponsorship and request a
direct payment challenge.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if opts.email != "" {
				cfg.Session.FallbackEmail = opts.email
			}
			// Terminal runs carry no bearer token.
			cfg.Auth.Enabled = false
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			container, err := bootstrap.BuildContainer(cfg, nil)
			if err != nil {
				return err
			}
			return c.run(cmd.Context(), container, args[0], args[1], opts)
		},
	}
	cmd.Flags().StringVar(&opts.sessionToken, "session-token", "", "backend session token")
	cmd.Flags().StringVar(&opts.email, "email", "", "mint a session for this email when no token is given")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the outcome as JSON")
	return cmd
}

func (c *cli) run(ctx context.Context, container *bootstrap.Container, service, input string, opts runOptions) error {
	token, err := container.Sessions.Resolve(ctx, session.RequestContext{SessionToken: opts.sessionToken}, nil)
	if err != nil {
		if errors.Is(err, session.ErrSessionRequired) {
			return errors.New("a session is required: pass --session-token or --email")
		}
		return err
	}

	outcome := container.Resolver.ResolveServiceRun(ctx, service, input, token)
	if opts.jsonOutput {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"mode": outcome.Mode(), "result": outcome}); err != nil {
			return err
		}
	} else {
		fmt.Fprint(c.out, formatOutcome(outcome))
	}
	if outcome.Mode() == access.ModeFailure {
		return errOutcomeFailed
	}
	return nil
}

func (c *cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.out, "subsidypay %s\n", Version)
		},
	}
}
