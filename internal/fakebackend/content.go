package fakebackend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/httputil"
	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/pagination"
)

type surah struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Ayahs  int    `json:"ayahs"`
}

type dhikr struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Target int64  `json:"target"`
	Count  int64  `json:"count"`
}

type name struct {
	Number  int    `json:"number"`
	Arabic  string `json:"arabic"`
	Meaning string `json:"meaning"`
}

type dua struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Title    string `json:"title"`
}

type feeling struct {
	Slug  string   `json:"slug"`
	Title string   `json:"title"`
	Duas  []string `json:"duas"`
}

var (
	surahs = []surah{
		{Number: 1, Name: "Al-Fatiha", Ayahs: 7},
		{Number: 2, Name: "Al-Baqarah", Ayahs: 286},
		{Number: 112, Name: "Al-Ikhlas", Ayahs: 4},
	}
	dhikrs = []dhikr{
		{ID: "subhanallah", Text: "SubhanAllah", Target: 33},
		{ID: "alhamdulillah", Text: "Alhamdulillah", Target: 33},
		{ID: "allahu-akbar", Text: "Allahu Akbar", Target: 34},
	}
	names = []name{
		{Number: 1, Arabic: "الرحمن", Meaning: "The Most Merciful"},
		{Number: 2, Arabic: "الرحيم", Meaning: "The Most Compassionate"},
		{Number: 3, Arabic: "الملك", Meaning: "The King"},
	}
	duas = []dua{
		{ID: "morning-1", Category: "morning", Title: "Upon waking"},
		{ID: "evening-1", Category: "evening", Title: "At nightfall"},
		{ID: "travel-1", Category: "travel", Title: "Before a journey"},
	}
	feelings = []feeling{
		{Slug: "anxious", Title: "Anxious", Duas: []string{"morning-1"}},
		{Slug: "grateful", Title: "Grateful", Duas: []string{"evening-1"}},
	}
)

func writeData(w http.ResponseWriter, v any) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: v})
}

func intParam(r *http.Request, key string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil {
		return 0, apperrors.InvalidInput(key + " must be a number")
	}
	return n, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidInput(key + " must be a number")
	}
	return n, nil
}

func queryFloat(r *http.Request, key string) (float64, bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, apperrors.InvalidInput(key + " must be a number")
	}
	return f, true, nil
}

func (s *Server) handlePrayerTimes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := q.Get("city")
	lat, hasLat, err := queryFloat(r, "lat")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	lng, hasLng, err := queryFloat(r, "lng")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	if city == "" && !(hasLat && hasLng) {
		httputil.WriteError(w, r, apperrors.InvalidInput("city or lat/lng is required"), s.logger)
		return
	}

	date := q.Get("date")
	if date == "" {
		date = time.Now().UTC().Format(time.DateOnly)
	}

	writeData(w, map[string]any{
		"date":     date,
		"city":     city,
		"location": map[string]float64{"lat": lat, "lng": lng},
		"timings": map[string]string{
			"fajr": "05:12", "sunrise": "06:31", "dhuhr": "12:15",
			"asr": "15:40", "maghrib": "17:58", "isha": "19:14",
		},
	})
}

func (s *Server) handleSurahs(w http.ResponseWriter, r *http.Request) {
	writeData(w, surahs)
}

func findSurah(n int) (surah, bool) {
	for _, su := range surahs {
		if su.Number == n {
			return su, true
		}
	}
	return surah{}, false
}

func (s *Server) handleSurah(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "number")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	su, ok := findSurah(n)
	if !ok {
		httputil.WriteError(w, r, apperrors.NotFound("surah", strconv.Itoa(n)), s.logger)
		return
	}
	writeData(w, su)
}

func (s *Server) handleAyah(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "number")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	a, err := intParam(r, "ayah")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	su, ok := findSurah(n)
	if !ok || a < 1 || a > su.Ayahs {
		httputil.WriteError(w, r, apperrors.NotFound("ayah", strconv.Itoa(n)+":"+strconv.Itoa(a)), s.logger)
		return
	}
	writeData(w, map[string]any{"surah": n, "ayah": a, "key": strconv.Itoa(n) + ":" + strconv.Itoa(a)})
}

func (s *Server) handleDhikrList(w http.ResponseWriter, r *http.Request) {
	userID := logger.SubjectFromContext(r.Context())

	s.mu.Lock()
	counts := s.tallies[userID]
	out := make([]dhikr, len(dhikrs))
	for i, d := range dhikrs {
		d.Count = counts[d.ID]
		out[i] = d
	}
	s.mu.Unlock()

	writeData(w, out)
}

func (s *Server) handleDhikrIncrement(w http.ResponseWriter, r *http.Request) {
	userID := logger.SubjectFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var found *dhikr
	for i := range dhikrs {
		if dhikrs[i].ID == id {
			found = &dhikrs[i]
			break
		}
	}
	if found == nil {
		httputil.WriteError(w, r, apperrors.NotFound("dhikr", id), s.logger)
		return
	}

	s.mu.Lock()
	if s.tallies[userID] == nil {
		s.tallies[userID] = make(map[string]int64)
	}
	s.tallies[userID][id]++
	d := *found
	d.Count = s.tallies[userID][id]
	s.mu.Unlock()

	writeData(w, d)
}

func (s *Server) handleHijri(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year", 1447)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	month, err := queryInt(r, "month", 1)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	if month < 1 || month > 12 {
		httputil.WriteError(w, r, apperrors.InvalidInput("month must be between 1 and 12"), s.logger)
		return
	}
	writeData(w, map[string]any{"year": year, "month": month, "days": 30})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year", 1447)
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	writeData(w, []map[string]any{
		{"year": year, "month": 9, "day": 1, "name": "Ramadan begins"},
		{"year": year, "month": 10, "day": 1, "name": "Eid al-Fitr"},
		{"year": year, "month": 12, "day": 10, "name": "Eid al-Adha"},
	})
}

func (s *Server) handleQibla(w http.ResponseWriter, r *http.Request) {
	lat, hasLat, err := queryFloat(r, "lat")
	if err == nil && !hasLat {
		err = apperrors.InvalidInput("lat is required")
	}
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	lng, hasLng, err := queryFloat(r, "lng")
	if err == nil && !hasLng {
		err = apperrors.InvalidInput("lng is required")
	}
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	writeData(w, map[string]any{"lat": lat, "lng": lng, "bearing": 58.48})
}

func (s *Server) handleNames(w http.ResponseWriter, r *http.Request) {
	writeData(w, names)
}

func (s *Server) handleName(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "number")
	if err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}
	for _, nm := range names {
		if nm.Number == n {
			writeData(w, nm)
			return
		}
	}
	httputil.WriteError(w, r, apperrors.NotFound("name", strconv.Itoa(n)), s.logger)
}

func (s *Server) handleDuas(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	out := make([]dua, 0, len(duas))
	for _, d := range duas {
		if category == "" || d.Category == category {
			out = append(out, d)
		}
	}
	writeData(w, pagination.Slice(out, pagination.FromRequest(r)))
}

func (s *Server) handleDua(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, d := range duas {
		if d.ID == id {
			writeData(w, d)
			return
		}
	}
	httputil.WriteError(w, r, apperrors.NotFound("dua", id), s.logger)
}

func (s *Server) handleFeelings(w http.ResponseWriter, r *http.Request) {
	writeData(w, feelings)
}

func (s *Server) handleFeeling(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	for _, f := range feelings {
		if f.Slug == slug {
			writeData(w, f)
			return
		}
	}
	httputil.WriteError(w, r, apperrors.NotFound("feeling", slug), s.logger)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := logger.SubjectFromContext(r.Context())

	s.mu.Lock()
	prefs := make(map[string]any, len(s.prefs[userID]))
	for k, v := range s.prefs[userID] {
		prefs[k] = v
	}
	s.mu.Unlock()

	writeData(w, prefs)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := logger.SubjectFromContext(r.Context())

	var update map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("body must be a JSON object"), s.logger)
		return
	}

	s.mu.Lock()
	if s.prefs[userID] == nil {
		s.prefs[userID] = make(map[string]any)
	}
	for k, v := range update {
		s.prefs[userID][k] = v
	}
	merged := make(map[string]any, len(s.prefs[userID]))
	for k, v := range s.prefs[userID] {
		merged[k] = v
	}
	s.mu.Unlock()

	writeData(w, merged)
}
