package siraat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/pagination"
	"github.com/siraat/companion/pkg/slug"
	"github.com/siraat/companion/pkg/validator"
)

// PrayerTimesQuery selects a location by city or by coordinates.
type PrayerTimesQuery struct {
	City      string   `json:"city"`
	Latitude  *float64 `json:"lat" validate:"required_without=City,omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"lng" validate:"required_without=City,omitempty,gte=-180,lte=180"`
	Date      string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Method    string   `json:"method"`
}

func (q PrayerTimesQuery) values() url.Values {
	v := url.Values{}
	if q.City != "" {
		v.Set("city", q.City)
	}
	if q.Latitude != nil {
		v.Set("lat", formatFloat(*q.Latitude))
	}
	if q.Longitude != nil {
		v.Set("lng", formatFloat(*q.Longitude))
	}
	if q.Date != "" {
		v.Set("date", q.Date)
	}
	if q.Method != "" {
		v.Set("method", q.Method)
	}
	return v
}

// Coordinates is a point on the globe.
type Coordinates struct {
	Latitude  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// PrayerTimes returns the prayer timetable for a location and day.
func (c *Client) PrayerTimes(ctx context.Context, q PrayerTimesQuery) (json.RawMessage, error) {
	if err := validator.Validate(q); err != nil {
		return nil, invalid(err)
	}
	return c.raw(ctx, http.MethodGet, "/prayers/times", q.values(), nil)
}

// Surahs lists the surahs of the Quran.
func (c *Client) Surahs(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/quran/surahs", nil, nil)
}

// Surah returns surah number n (1-114).
func (c *Client) Surah(ctx context.Context, n int) (json.RawMessage, error) {
	if n < 1 || n > 114 {
		return nil, apperrors.InvalidInput("surah must be between 1 and 114")
	}
	return c.raw(ctx, http.MethodGet, fmt.Sprintf("/quran/surahs/%d", n), nil, nil)
}

// Ayah returns one ayah of a surah.
func (c *Client) Ayah(ctx context.Context, surah, ayah int) (json.RawMessage, error) {
	if surah < 1 || surah > 114 {
		return nil, apperrors.InvalidInput("surah must be between 1 and 114")
	}
	if ayah < 1 {
		return nil, apperrors.InvalidInput("ayah must be positive")
	}
	return c.raw(ctx, http.MethodGet, fmt.Sprintf("/quran/surahs/%d/ayahs/%d", surah, ayah), nil, nil)
}

// DhikrList returns the dhikr counters of the signed-in user.
func (c *Client) DhikrList(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/dhikr", nil, nil)
}

// IncrementDhikr adds one to a dhikr counter.
func (c *Client) IncrementDhikr(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("dhikr id is required")
	}
	return c.raw(ctx, http.MethodPost, "/dhikr/"+url.PathEscape(id)+"/increment", nil, nil)
}

// HijriCalendar returns one Hijri month.
func (c *Client) HijriCalendar(ctx context.Context, year, month int) (json.RawMessage, error) {
	if month < 1 || month > 12 {
		return nil, apperrors.InvalidInput("month must be between 1 and 12")
	}
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	q.Set("month", strconv.Itoa(month))
	return c.raw(ctx, http.MethodGet, "/calendar/hijri", q, nil)
}

// CalendarEvents returns the Islamic events of a Hijri year.
func (c *Client) CalendarEvents(ctx context.Context, year int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	return c.raw(ctx, http.MethodGet, "/calendar/events", q, nil)
}

// Qibla returns the Qibla direction from a point.
func (c *Client) Qibla(ctx context.Context, at Coordinates) (json.RawMessage, error) {
	if err := validator.Validate(at); err != nil {
		return nil, invalid(err)
	}
	q := url.Values{}
	q.Set("lat", formatFloat(at.Latitude))
	q.Set("lng", formatFloat(at.Longitude))
	return c.raw(ctx, http.MethodGet, "/qibla", q, nil)
}

// Names lists the names of Allah.
func (c *Client) Names(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/names", nil, nil)
}

// Name returns name number n (1-99).
func (c *Client) Name(ctx context.Context, n int) (json.RawMessage, error) {
	if n < 1 || n > 99 {
		return nil, apperrors.InvalidInput("name must be between 1 and 99")
	}
	return c.raw(ctx, http.MethodGet, fmt.Sprintf("/names/%d", n), nil, nil)
}

// DuaQuery filters and pages the dua list. Zero values leave the choice to
// the backend.
type DuaQuery struct {
	Category string `json:"category"`
	pagination.Params
}

// Duas lists one page of duas, optionally filtered by category.
func (c *Client) Duas(ctx context.Context, q DuaQuery) (json.RawMessage, error) {
	if err := validator.Validate(q); err != nil {
		return nil, invalid(err)
	}
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	q.Params.Encode(v)
	return c.raw(ctx, http.MethodGet, "/duas", v, nil)
}

// Dua returns one dua.
func (c *Client) Dua(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("dua id is required")
	}
	return c.raw(ctx, http.MethodGet, "/duas/"+url.PathEscape(id), nil, nil)
}

// Feelings lists the feelings duas are grouped under.
func (c *Client) Feelings(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/feelings", nil, nil)
}

// Feeling returns one feeling with its duas. name may be the slug or the
// display title ("Anxious", "anxious").
func (c *Client) Feeling(ctx context.Context, name string) (json.RawMessage, error) {
	key := slug.Generate(name)
	if key == "" {
		return nil, apperrors.InvalidInput("feeling slug is required")
	}
	return c.raw(ctx, http.MethodGet, "/feelings/"+key, nil, nil)
}

// Preferences returns the preferences stored server-side for the user.
func (c *Client) Preferences(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/users/me/preferences", nil, nil)
}

// UpdatePreferences merges prefs into the user's server-side preferences.
func (c *Client) UpdatePreferences(ctx context.Context, prefs map[string]any) (json.RawMessage, error) {
	if len(prefs) == 0 {
		return nil, apperrors.InvalidInput("no preferences to update")
	}
	return c.raw(ctx, http.MethodPut, "/users/me/preferences", nil, prefs)
}
