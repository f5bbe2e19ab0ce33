package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/siraat/companion/internal/app"
	"github.com/siraat/companion/internal/handler"
	"github.com/siraat/companion/pkg/siraat"
)

// readPassword returns flagValue, or the first line of in when it is empty.
func readPassword(flagValue string, in io.Reader) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLoginCommand(rt *runtime) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session in the token store",
		Long:  `Sign in with email and password. Without --password the password is read from stdin.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				res, err := core.Client.Login(cmd.Context(), siraat.LoginRequest{Email: email, Password: pw})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res.User)
			})
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCommand(rt *runtime) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				res, err := core.Client.Register(cmd.Context(), siraat.RegisterRequest{Name: name, Email: email, Password: pw})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res.User)
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				if err := core.Client.Logout(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return err
			})
		},
	}
}

func newWhoamiCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user as the backend sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				me, err := core.Client.Me(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), me)
			})
		},
	}
}

func newSessionCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the stored session without contacting the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				st, err := handler.DescribeSession(cmd.Context(), core.Client.Coordinator(), time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}
