package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/siraat/companion/internal/app"
	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/slug"
	"github.com/siraat/companion/pkg/storage"
)

// Local preference keys, kept next to the session tokens.
const (
	PrefLanguage      = "language"
	PrefNotifications = "notifications"

	tallyKeyPrefix = "tally:"
)

var prefKeys = []string{PrefLanguage, PrefNotifications}

// parsePref validates one key=value pair and returns the value to store and
// the value to send to the backend.
func parsePref(pair string) (key, stored string, remote any, err error) {
	key, value, ok := strings.Cut(pair, "=")
	if !ok || value == "" {
		return "", "", nil, apperrors.InvalidInput(fmt.Sprintf("expected key=value, got %q", pair))
	}
	switch key {
	case PrefLanguage:
		return key, value, value, nil
	case PrefNotifications:
		on, perr := strconv.ParseBool(value)
		if perr != nil {
			return "", "", nil, apperrors.InvalidInput("notifications must be true or false")
		}
		return key, strconv.FormatBool(on), on, nil
	default:
		return "", "", nil, unknownPref(key)
	}
}

func unknownPref(key string) error {
	return apperrors.InvalidInput(fmt.Sprintf("unknown preference %q (want one of %s)", key, strings.Join(prefKeys, ", ")))
}

func readPrefs(ctx context.Context, kv storage.Store, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := kv.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("read preference %s: %w", k, err)
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func newPrefsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and change preferences",
	}

	var getRemote bool
	get := &cobra.Command{
		Use:   "get [key]",
		Short: "Show local preferences, or the backend's with --remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				if getRemote {
					prefs, err := core.Client.Preferences(cmd.Context())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), prefs)
				}
				keys := prefKeys
				if len(args) == 1 {
					if !slices.Contains(prefKeys, args[0]) {
						return unknownPref(args[0])
					}
					keys = args
				}
				prefs, err := readPrefs(cmd.Context(), core.KV, keys)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), prefs)
			})
		},
	}
	get.Flags().BoolVar(&getRemote, "remote", false, "read the preferences stored by the backend")

	var setRemote bool
	set := &cobra.Command{
		Use:   "set key=value...",
		Short: "Change local preferences, and the backend's with --remote",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := make(map[string]string, len(args))
			remote := make(map[string]any, len(args))
			for _, pair := range args {
				k, stored, rv, err := parsePref(pair)
				if err != nil {
					return err
				}
				local[k] = stored
				remote[k] = rv
			}
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				if err := core.KV.SetMany(cmd.Context(), local); err != nil {
					return fmt.Errorf("save preferences: %w", err)
				}
				if setRemote {
					merged, err := core.Client.UpdatePreferences(cmd.Context(), remote)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), merged)
				}
				return printJSON(cmd.OutOrStdout(), local)
			})
		},
	}
	set.Flags().BoolVar(&setRemote, "remote", false, "also update the preferences stored by the backend")

	cmd.AddCommand(get, set)
	return cmd
}

// tallyKey names a counter by its slug, so "Subḥān Allāh" and
// "subhan-allah" share one tally.
func tallyKey(counter string) (name, key string, err error) {
	name = slug.Generate(counter)
	if name == "" {
		return "", "", apperrors.InvalidInput("counter name is required")
	}
	return name, tallyKeyPrefix + name, nil
}

func readTally(ctx context.Context, kv storage.Store, key string) (int, error) {
	v, ok, err := kv.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read tally: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("tally %s holds %q: %w", key, v, err)
	}
	return n, nil
}

type tallyOutput struct {
	Counter string `json:"counter"`
	Count   int    `json:"count"`
}

func newTallyCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tally",
		Short: "Offline dhikr tallies kept on this device",
	}

	var by int
	incr := &cobra.Command{
		Use:   "incr <counter>",
		Short: "Add to a tally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, key, err := tallyKey(args[0])
			if err != nil {
				return err
			}
			if by < 1 {
				return apperrors.InvalidInput("--by must be positive")
			}
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				n, err := readTally(cmd.Context(), core.KV, key)
				if err != nil {
					return err
				}
				n += by
				if err := core.KV.SetMany(cmd.Context(), map[string]string{key: strconv.Itoa(n)}); err != nil {
					return fmt.Errorf("save tally: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), tallyOutput{Counter: name, Count: n})
			})
		},
	}
	incr.Flags().IntVar(&by, "by", 1, "amount to add")

	show := &cobra.Command{
		Use:   "show <counter>...",
		Short: "Show tallies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make(map[string]string, len(args))
			for _, c := range args {
				name, key, err := tallyKey(c)
				if err != nil {
					return err
				}
				keys[name] = key
			}
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				out := make([]tallyOutput, 0, len(keys))
				for _, name := range slices.Sorted(maps.Keys(keys)) {
					n, err := readTally(cmd.Context(), core.KV, keys[name])
					if err != nil {
						return err
					}
					out = append(out, tallyOutput{Counter: name, Count: n})
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <counter>",
		Short: "Set a tally back to zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, key, err := tallyKey(args[0])
			if err != nil {
				return err
			}
			return rt.withCore(cmd.Context(), func(core *app.Core) error {
				if err := core.KV.Delete(cmd.Context(), key); err != nil {
					return fmt.Errorf("reset tally: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), tallyOutput{Counter: name})
			})
		},
	}

	cmd.AddCommand(incr, show, reset)
	return cmd
}
