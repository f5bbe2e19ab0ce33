package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/siraat/companion/internal/app"
	"github.com/siraat/companion/internal/fakebackend"
)

func newServeCommand(rt *runtime) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion daemon",
		Long: `Run the companion daemon. It holds the session and proxies /api/* to the
backend with credentials attached, refreshing expired tokens on the way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				rt.cfg.HTTPPort = port
			}
			a, err := app.NewApp(cmd.Context(), rt.cfg, rt.logger, rt.version)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides COMPANION_HTTP_PORT)")
	return cmd
}

func newDevBackendCommand(rt *runtime) *cobra.Command {
	var (
		addr     string
		prefix   string
		name     string
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:    "dev-backend",
		Short:  "Run an in-memory backend for local development",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := fakebackend.New(fakebackend.DefaultConfig(), rt.logger)
			if email != "" {
				backend.AddUser(name, email, password)
			}

			srv := &http.Server{
				Handler:           http.StripPrefix(prefix, backend.Handler()),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			rt.logger.Info("dev backend listening",
				slog.String("url", "http://"+ln.Addr().String()+prefix),
				slog.String("user", email),
			)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			select {
			case <-cmd.Context().Done():
				return srv.Close()
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8000", "listen address")
	cmd.Flags().StringVar(&prefix, "prefix", "/api/v1", "path prefix the API is served under")
	cmd.Flags().StringVar(&name, "name", "Dev User", "seeded user name")
	cmd.Flags().StringVar(&email, "email", "dev@siraat.local", "seeded user email, empty for none")
	cmd.Flags().StringVar(&password, "password", "password123", "seeded user password")
	return cmd
}
