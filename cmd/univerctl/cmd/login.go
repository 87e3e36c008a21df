package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	domainauth "github.com/FeruzLatifov/univer-front-sub000/internal/domain/auth"
	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

// passwordEnv lets scripts sign in without a prompt.
const passwordEnv = "UNIVER_PASSWORD"

func (c *cli) loginCmd() *cobra.Command {
	var staff, student, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as a staff member or a student",
		Long: `Signs in against the staff or student endpoints of the university API.

The password is read from --password, then from UNIVER_PASSWORD, and
otherwise prompted for. A failed login leaves any existing session in place.`,
		Example: `  univerctl login --staff dekan
  univerctl login --student 20231001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			if password == "" {
				var err error
				if password, err = promptPassword(); err != nil {
					return err
				}
			}

			var creds domainauth.Credentials = domainauth.StaffCredentials{Login: staff, Password: password}
			if student != "" {
				creds = domainauth.StudentCredentials{StudentID: student, Password: password}
			}

			if _, err := c.app.Session.Login(cmd.Context(), creds); err != nil {
				return fmt.Errorf("login failed: %s", apperrors.UserMessage(err, err.Error()))
			}

			identity, _ := c.app.Session.Identity()
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("Signed in as %s (%s, role %s)",
				displayName(identity), identity.PrincipalKind, identity.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&staff, "staff", "", "Staff login name")
	cmd.Flags().StringVar(&student, "student", "", "Student ID number")
	cmd.Flags().StringVar(&password, "password", "", "Password (prefer UNIVER_PASSWORD or the prompt)")
	cmd.MarkFlagsMutuallyExclusive("staff", "student")
	cmd.MarkFlagsOneRequired("staff", "student")
	return cmd
}

func promptPassword() (string, error) {
	pw, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}

func displayName(identity domainauth.Identity) string {
	if name := strings.TrimSpace(identity.DisplayName); name != "" {
		return name
	}
	return fmt.Sprintf("user %d", identity.ID)
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and delete the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wasSignedIn := c.app.Session.IsAuthenticated()
			c.app.Session.Logout(cmd.Context())
			if wasSignedIn {
				pterm.Success.WithWriter(cmd.OutOrStdout()).Println("Signed out")
			} else {
				pterm.Info.WithWriter(cmd.OutOrStdout()).Println("No active session")
			}
			return nil
		},
	}
}
