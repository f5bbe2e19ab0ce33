package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/siraat/companion/internal/app"
	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/siraat"
)

// fetch runs an API call that returns raw JSON and prints the result.
func (rt *runtime) fetch(cmd *cobra.Command, call func(context.Context, *siraat.Client) (json.RawMessage, error)) error {
	return rt.withCore(cmd.Context(), func(core *app.Core) error {
		out, err := call(cmd.Context(), core.Client)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}

func intArg(args []string, i int, name string) (int, error) {
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, apperrors.InvalidInput(fmt.Sprintf("%s must be a number, got %q", name, args[i]))
	}
	return n, nil
}

func newPrayersCommand(rt *runtime) *cobra.Command {
	var (
		q        siraat.PrayerTimesQuery
		lat, lng float64
	)

	cmd := &cobra.Command{
		Use:   "prayers",
		Short: "Show prayer times for a city or coordinates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("lat") {
				q.Latitude = &lat
			}
			if cmd.Flags().Changed("lng") {
				q.Longitude = &lng
			}
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.PrayerTimes(ctx, q)
			})
		},
	}

	cmd.Flags().StringVar(&q.City, "city", "", "city name")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&q.Date, "date", "", "day as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&q.Method, "method", "", "calculation method")
	return cmd
}

func newQuranCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "quran [surah] [ayah]",
		Short: "List surahs, or show a surah or one ayah",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
					return c.Surahs(ctx)
				})
			case 1:
				surah, err := intArg(args, 0, "surah")
				if err != nil {
					return err
				}
				return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
					return c.Surah(ctx, surah)
				})
			default:
				surah, err := intArg(args, 0, "surah")
				if err != nil {
					return err
				}
				ayah, err := intArg(args, 1, "ayah")
				if err != nil {
					return err
				}
				return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
					return c.Ayah(ctx, surah, ayah)
				})
			}
		},
	}
}

func newDhikrCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dhikr",
		Short: "List your dhikr counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.DhikrList(ctx)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "increment <id>",
		Short: "Add one to a dhikr counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.IncrementDhikr(ctx, args[0])
			})
		},
	})
	return cmd
}

func newCalendarCommand(rt *runtime) *cobra.Command {
	var year, month int

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Hijri calendar and Islamic events",
		Args:  cobra.NoArgs,
	}
	cmd.PersistentFlags().IntVar(&year, "year", 1447, "Hijri year")

	hijri := &cobra.Command{
		Use:   "hijri",
		Short: "Show one Hijri month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.HijriCalendar(ctx, year, month)
			})
		},
	}
	hijri.Flags().IntVar(&month, "month", 1, "Hijri month (1-12)")

	events := &cobra.Command{
		Use:   "events",
		Short: "List the events of a Hijri year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.CalendarEvents(ctx, year)
			})
		},
	}

	cmd.AddCommand(hijri, events)
	return cmd
}

func newQiblaCommand(rt *runtime) *cobra.Command {
	var at siraat.Coordinates

	cmd := &cobra.Command{
		Use:   "qibla",
		Short: "Show the Qibla direction from a point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.Qibla(ctx, at)
			})
		},
	}

	cmd.Flags().Float64Var(&at.Latitude, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&at.Longitude, "lng", 0, "longitude")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

func newNamesCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "names [n]",
		Short: "List the names of Allah, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
					return c.Names(ctx)
				})
			}
			n, err := intArg(args, 0, "name number")
			if err != nil {
				return err
			}
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.Name(ctx, n)
			})
		},
	}
}

func newDuasCommand(rt *runtime) *cobra.Command {
	var q siraat.DuaQuery

	cmd := &cobra.Command{
		Use:   "duas [id]",
		Short: "List duas, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
					return c.Dua(ctx, args[0])
				})
			}
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.Duas(ctx, q)
			})
		},
	}

	cmd.Flags().StringVarP(&q.Category, "category", "c", "", "only duas in this category")
	cmd.Flags().IntVar(&q.Page, "page", 0, "page number (default first)")
	cmd.Flags().IntVar(&q.PerPage, "per-page", 0, "duas per page, at most 100")
	return cmd
}

func newFeelingsCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "feelings [slug]",
		Short: "List feelings, or show the duas for one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
					return c.Feeling(ctx, args[0])
				})
			}
			return rt.fetch(cmd, func(ctx context.Context, c *siraat.Client) (json.RawMessage, error) {
				return c.Feelings(ctx)
			})
		},
	}
}
