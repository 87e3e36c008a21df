package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func (c *cli) canCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can PATH...",
		Short: "Check whether the session may open portal pages",
		Long: `Prints "allow" or "deny" for every page path. Exits non-zero when any
path is denied. A session found expired or tampered with is ended.`,
		Example: "  univerctl can students/list finance/payments",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			denied := 0
			for _, path := range args {
				verdict := "allow"
				if !c.app.Session.CanAccessPath(cmd.Context(), path) {
					verdict = "deny"
					denied++
				}
				fmt.Fprintf(out, "%s\t%s\n", verdict, path)
			}
			if denied > 0 {
				return fmt.Errorf("%d of %d path(s) denied", denied, len(args))
			}
			return nil
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	var query []string

	cmd := &cobra.Command{
		Use:   "get API_PATH",
		Short: "Call the university API with the session token",
		Long: `Sends a GET request through the session gateway. An expired token is
renewed once and the request retried. The response payload is printed as JSON.`,
		Example: "  univerctl get /api/staff/students --query page=2",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			values := url.Values{}
			for _, kv := range query {
				k, v, _ := strings.Cut(kv, "=")
				values.Add(k, v)
			}

			resp, err := c.app.Session.Gateway().Get(cmd.Context(), args[0], values)
			if err != nil {
				return err
			}
			if resp.Message != "" {
				pterm.Info.WithWriter(cmd.ErrOrStderr()).Println(resp.Message)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, resp.Data, "", "  "); err != nil {
				_, werr := cmd.OutOrStdout().Write(append(resp.Data, '\n'))
				return werr
			}
			pretty.WriteByte('\n')
			_, err = pretty.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringArrayVar(&query, "query", nil, "Query parameter as key=value (repeatable)")
	return cmd
}
