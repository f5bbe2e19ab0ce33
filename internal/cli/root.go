// Package cli implements the siraat command line.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/siraat/companion/internal/app"
	"github.com/siraat/companion/internal/config"
	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/storage"
)

// runtime carries what every command needs once flags are parsed.
type runtime struct {
	version    string
	loadConfig func() (*config.Config, error)

	apiURL    string
	store     string
	tokenFile string
	logLevel  string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root command.
func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(&runtime{version: version, loadConfig: config.Load})
}

func newRootCmd(rt *runtime) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "siraat",
		Short:         "Siraat companion: prayer times, Quran, dhikr and more from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rt.apiURL, "api-url", "", "backend base URL (overrides SIRAAT_API_BASE_URL)")
	flags.StringVar(&rt.store, "store", "", "token store: memory, file or redis (overrides TOKEN_STORE)")
	flags.StringVar(&rt.tokenFile, "token-file", "", "token file for the file store (overrides TOKEN_FILE)")
	flags.StringVar(&rt.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		newServeCommand(rt),
		newDevBackendCommand(rt),
		newLoginCommand(rt),
		newRegisterCommand(rt),
		newLogoutCommand(rt),
		newWhoamiCommand(rt),
		newSessionCommand(rt),
		newPrayersCommand(rt),
		newQuranCommand(rt),
		newDhikrCommand(rt),
		newCalendarCommand(rt),
		newQiblaCommand(rt),
		newNamesCommand(rt),
		newDuasCommand(rt),
		newFeelingsCommand(rt),
		newPrefsCommand(rt),
		newTallyCommand(rt),
		newEventsCommand(rt),
		newVersionCommand(rt),
	)

	return rootCmd
}

func (rt *runtime) init(cmd *cobra.Command) error {
	cfg, err := rt.loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.APIBaseURL = rt.apiURL
	}
	if flags.Changed("store") {
		cfg.TokenStore = rt.store
		if cfg.TokenStore == storage.BackendFile && cfg.TokenFile == "" {
			cfg.TokenFile = config.DefaultTokenFile()
		}
	}
	if flags.Changed("token-file") {
		cfg.TokenFile = rt.tokenFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = rt.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt.cfg = cfg
	// stdout carries command output, so logs go to stderr.
	rt.logger = logger.NewWithWriter(config.ServiceName, cfg.LogLevel, cmd.ErrOrStderr())
	return nil
}

// withCore opens the token store and API client for the duration of fn.
func (rt *runtime) withCore(ctx context.Context, fn func(*app.Core) error) (err error) {
	core, err := app.NewCore(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := core.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(core)
}

// printJSON writes v as indented JSON. Raw JSON is re-indented as is, so
// numbers keep their exact digits; an empty body prints null.
func printJSON(w io.Writer, v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), rt.version)
			return err
		},
	}
}

// Execute runs the root command and reports errors on stderr.
func Execute(ctx context.Context, version string) int {
	cmd := NewRootCmd(version)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
