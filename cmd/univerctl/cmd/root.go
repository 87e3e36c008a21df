// Package cmd implements the univerctl commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/FeruzLatifov/univer-front-sub000/config"
	"github.com/FeruzLatifov/univer-front-sub000/internal/adapters/navigation"
	"github.com/FeruzLatifov/univer-front-sub000/internal/bootstrap"
)

// cli carries flag values and the wired session across one invocation.
type cli struct {
	baseURL     string
	sessionName string
	storageDir  string
	logLevel    string

	app *bootstrap.App
	// ended is the teardown reason when the session ended during the command.
	ended string
}

var errNotSignedIn = errors.New("not signed in; run `univerctl login` first")

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "univerctl",
		Short: "University portal session client",
		Long: `univerctl signs a staff member or student into the university API, keeps the
session between invocations, and answers which portal pages the session may open.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.baseURL, "server", "", "University API base URL (overrides AUTH_BASE_URL)")
	flags.StringVar(&c.sessionName, "session", "default", "Name of the stored session")
	flags.StringVar(&c.storageDir, "storage-dir", "", "Directory holding stored sessions (overrides STORAGE_DIR)")
	flags.StringVar(&c.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.rolesCmd(),
		c.switchRoleCmd(),
		c.refreshCmd(),
		c.canCmd(),
		c.getCmd(),
		c.serveCmd(),
	)
	return root
}

// Execute runs univerctl with the process arguments.
func Execute() {
	if err := Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		pterm.Error.WithWriter(os.Stderr).Println(err)
		os.Exit(1)
	}
}

// Run executes one univerctl invocation and releases what it opened,
// including when the command fails.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if c.ended != "" {
		pterm.Warning.WithWriter(stderr).Printfln("Session ended (%s). Sign in again with `univerctl login`.", c.ended)
	}
	if c.app != nil {
		err = errors.Join(err, c.app.Close(ctx))
	}
	return err
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	c.applyFlags(&cfg)

	logger := bootstrap.InitLogger(cmd.ErrOrStderr(), cfg.Observability.Logging)
	nav := &navigation.Log{
		Logger:    logger,
		LoginPath: cfg.Auth.LoginPath,
		Then:      func(_ context.Context, reason string) { c.ended = reason },
	}

	app, err := bootstrap.BuildApp(cmd.Context(), bootstrap.AppOptions{Config: &cfg, Logger: logger, Navigator: nav})
	if err != nil {
		return err
	}
	c.app = app

	if _, err := app.Session.Restore(cmd.Context()); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	return nil
}

// applyFlags layers command-line flags over the environment. Sessions must
// survive between invocations, so in-memory storage becomes file storage.
func (c *cli) applyFlags(cfg *config.AppConfig) {
	if c.baseURL != "" {
		cfg.Auth.BaseURL = c.baseURL
	}
	if c.storageDir != "" {
		cfg.Storage.Dir = c.storageDir
	}
	if cfg.Storage.Mode == config.StorageModeMemory {
		cfg.Storage.Mode = config.StorageModeFile
	}
	if cfg.Storage.SessionID == "" {
		cfg.Storage.SessionID = c.sessionName
	}
	cfg.Observability.Logging.Level = c.logLevel
	cfg.Observability.Logging.Format = "text"
	cfg.Sanitize()
}

func (c *cli) requireSession() error {
	if !c.app.Session.IsAuthenticated() {
		return errNotSignedIn
	}
	return nil
}
