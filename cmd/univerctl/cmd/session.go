package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

func (c *cli) whoamiCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			identity, _ := c.app.Session.Identity()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(identity)
			}

			roleName := identity.RoleName
			if roleName == "" {
				roleName = identity.Role
			}
			data := pterm.TableData{
				{"Name", displayName(identity)},
				{"ID", strconv.FormatInt(identity.ID, 10)},
				{"Kind", string(identity.PrincipalKind)},
				{"Role", roleName},
				{"Permissions", strings.Join(identity.Permissions, ", ")},
				{"Super admin", strconv.FormatBool(c.app.Session.IsSuperAdmin())},
			}
			return pterm.DefaultTable.WithWriter(out).WithData(data).Render()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the identity as JSON")
	return cmd
}

func (c *cli) rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the roles the session may switch into",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			roles := c.app.Session.AvailableRoles()
			if len(roles) == 0 {
				pterm.Info.WithWriter(cmd.OutOrStdout()).Println("No roles available")
				return nil
			}

			identity, _ := c.app.Session.Identity()
			data := pterm.TableData{{"", "ID", "Code", "Name"}}
			for _, r := range roles {
				marker := ""
				if r.Code == identity.Role {
					marker = "*"
				}
				data = append(data, []string{marker, strconv.FormatInt(r.ID, 10), r.Code, r.Name})
			}
			return pterm.DefaultTable.WithWriter(cmd.OutOrStdout()).WithHasHeader().WithData(data).Render()
		},
	}
}

func (c *cli) switchRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "switch-role ROLE_ID",
		Short:   "Switch the staff session to another role",
		Example: "  univerctl switch-role 3",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || roleID <= 0 {
				return fmt.Errorf("invalid role ID %q", args[0])
			}
			if err := c.requireSession(); err != nil {
				return err
			}
			if _, err := c.app.Session.SwitchRole(cmd.Context(), roleID); err != nil {
				return fmt.Errorf("switch role: %s", apperrors.UserMessage(err, err.Error()))
			}
			identity, _ := c.app.Session.Identity()
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Switched to role %s", identity.Role)
			return nil
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	var permissions bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Renew the session token or re-fetch permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireSession(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if permissions {
				c.app.Session.RefreshPermissionsInBackground(cmd.Context())
				c.app.Session.Wait()
				identity, _ := c.app.Session.Identity()
				pterm.Success.WithWriter(out).Printfln("Permissions: %s", strings.Join(identity.Permissions, ", "))
				return nil
			}

			if _, err := c.app.Session.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("refresh: %s", apperrors.UserMessage(err, err.Error()))
			}
			pterm.Success.WithWriter(out).Println("Session renewed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&permissions, "permissions", false, "Re-fetch the permission list instead of renewing the token")
	return cmd
}
