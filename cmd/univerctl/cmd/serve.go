package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/FeruzLatifov/univer-front-sub000/internal/bootstrap"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local route-guard server for the stored session",
		Long: `Serves /auth/login, /auth/logout, /auth/status and /auth/me, and gates
every page under the app prefix (default /app) with the session's permissions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.app.Config
			httpCfg := cfg.HTTP
			if addr != "" {
				httpCfg.Addr = addr
			}

			server := bootstrap.NewHTTPServer(bootstrap.HTTPServerConfig{
				HTTP:      httpCfg,
				LoginPath: cfg.Auth.LoginPath,
				Session:   c.app.Session,
				Logger:    c.app.Logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pterm.Info.WithWriter(cmd.OutOrStdout()).Printfln("Guarding %s on http://%s", httpCfg.AppPrefix, server.Addr)
			return bootstrap.RunHTTPServer(ctx, server, httpCfg.ShutdownTimeout, c.app.Logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	return cmd
}
