// Package api exposes ingestion and engine queries over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mrcode/nocturne-server/internal/engine"
	"github.com/mrcode/nocturne-server/internal/models"
	"github.com/mrcode/nocturne-server/internal/storage"
)

type Handler struct {
	store *storage.SQLiteStorage
	eng   *engine.Engine
}

func NewHandler(store *storage.SQLiteStorage, eng *engine.Engine) *Handler {
	return &Handler{store: store, eng: eng}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/treatments", h.CreateTreatment)
	r.Get("/treatments", h.ListTreatments)
	r.Post("/entries", h.CreateEntry)
	r.Get("/entries", h.ListEntries)
	r.Post("/profiles", h.CreateProfile)
	r.Get("/profiles", h.ListProfiles)
	r.Post("/statespans", h.CreateStateSpan)
	r.Get("/statespans", h.ListStateSpans)
	r.Post("/devicestatus", h.CreateDeviceStatus)
	r.Get("/devicestatus", h.ListDeviceStatuses)

	r.Get("/engine/iob", h.GetIOB)
	r.Get("/engine/iob/series", h.GetIOBSeries)
	r.Get("/engine/cob", h.GetCOB)
	r.Get("/engine/cob/series", h.GetCOBSeries)
	r.Get("/engine/basal", h.GetBasal)
	r.Get("/engine/basal/series", h.GetBasalSeries)
	r.Get("/engine/snapshot", h.GetSnapshot)
}

// inputLookback is how far behind a query instant records are loaded. It must
// cover the longest insulin duration plus slack for device telemetry.
const inputLookback = 12 * time.Hour

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseTime accepts RFC3339 or Unix milliseconds. An empty value means now.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (h *Handler) CreateTreatment(w http.ResponseWriter, r *http.Request) {
	var t models.Treatment
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if t.Time().IsZero() {
		http.Error(w, "Treatment needs a date or created_at", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveTreatment(&t); err != nil {
		http.Error(w, "Failed to save treatment", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListTreatments(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	treatments, err := h.store.TreatmentsBetween(from, to)
	if err != nil {
		http.Error(w, "Failed to load treatments", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, treatments)
}

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var e models.GlucoseEntry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if e.Date == 0 || e.SGV <= 0 {
		http.Error(w, "Entry needs a date and a positive sgv", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveEntry(&e); err != nil {
		http.Error(w, "Failed to save entry", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.store.EntriesBetween(from, to)
	if err != nil {
		http.Error(w, "Failed to load entries", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var p models.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if p.ActivationDate == 0 {
		http.Error(w, "Profile needs an activation date", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveProfile(&p); err != nil {
		http.Error(w, "Failed to save profile", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.Profiles()
	if err != nil {
		http.Error(w, "Failed to load profiles", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}

func (h *Handler) CreateStateSpan(w http.ResponseWriter, r *http.Request) {
	var span models.StateSpan
	if err := json.NewDecoder(r.Body).Decode(&span); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveStateSpan(&span); err != nil {
		if errors.Is(err, storage.ErrInvalidSpan) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to save state span", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, span)
}

func (h *Handler) ListStateSpans(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	category := models.SpanCategory(r.URL.Query().Get("category"))
	if category == "" {
		category = models.SpanBasalDelivery
	}
	spans, err := h.store.SpansByCategory(category, from, to)
	if err != nil {
		http.Error(w, "Failed to load state spans", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, spans)
}

func (h *Handler) CreateDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var d models.DeviceStatus
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if d.Date == 0 {
		http.Error(w, "Device status needs a date", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveDeviceStatus(&d); err != nil {
		http.Error(w, "Failed to save device status", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (h *Handler) ListDeviceStatuses(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	statuses, err := h.store.DeviceStatusesBetween(from, to)
	if err != nil {
		http.Error(w, "Failed to load device statuses", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

func (h *Handler) GetIOB(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, "Invalid at parameter", http.StatusBadRequest)
		return
	}

	in, err := h.loadInputs(at.Add(-inputLookback), at)
	if err != nil {
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, h.eng.IOBAt(in.treatments, in.statuses, in.profiles, at, 0))
}

func (h *Handler) GetCOB(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, "Invalid at parameter", http.StatusBadRequest)
		return
	}

	in, err := h.loadInputs(at.Add(-inputLookback), at)
	if err != nil {
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, h.eng.COBAt(in.treatments, in.statuses, in.profiles, at))
}

func (h *Handler) GetBasal(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, "Invalid at parameter", http.StatusBadRequest)
		return
	}

	in, err := h.loadInputs(at.Add(-inputLookback), at)
	if err != nil {
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, h.eng.BasalAt(in.treatments, in.profiles, at))
}

func (h *Handler) GetBasalSeries(w http.ResponseWriter, r *http.Request) {
	window, err := seriesWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in, err := h.loadInputs(window.Start.Add(-inputLookback), window.End)
	if err != nil {
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	spans, err := h.store.SpansByCategory(models.SpanBasalDelivery, window.Start, window.End)
	if err != nil {
		http.Error(w, "Failed to load state spans", http.StatusInternalServerError)
		return
	}

	resolver := engine.NewTempBasalResolver(in.profiles, in.treatments)
	points, err := h.eng.BasalSeries(r.Context(), spans, resolver, window)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

func (h *Handler) GetIOBSeries(w http.ResponseWriter, r *http.Request) {
	h.sampledSeries(w, r, func(in *engineInputs, at time.Time) float64 {
		return h.eng.IOBAt(in.treatments, in.statuses, in.profiles, at, 0).IOB
	})
}

func (h *Handler) GetCOBSeries(w http.ResponseWriter, r *http.Request) {
	h.sampledSeries(w, r, func(in *engineInputs, at time.Time) float64 {
		return h.eng.COBAt(in.treatments, in.statuses, in.profiles, at).COB
	})
}

func (h *Handler) sampledSeries(w http.ResponseWriter, r *http.Request, value func(*engineInputs, time.Time) float64) {
	window, err := seriesWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	interval := h.eng.Config().GapFillMinutes
	if raw := r.URL.Query().Get("interval"); raw != "" {
		interval, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid interval parameter", http.StatusBadRequest)
			return
		}
	}

	in, err := h.loadInputs(window.Start.Add(-inputLookback), window.End)
	if err != nil {
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	points, err := h.eng.Sample(r.Context(), window, interval, func(at time.Time) float64 {
		return value(in, at)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime(r.URL.Query().Get("at"))
	if err != nil {
		http.Error(w, "Invalid at parameter", http.StatusBadRequest)
		return
	}

	in, err := h.loadInputs(at.Add(-inputLookback), at)
	if err != nil {
		http.Error(w, "Failed to load records", http.StatusInternalServerError)
		return
	}

	// Readings shortly after the instant take part in interpolation.
	entries, err := h.store.EntriesBetween(at.Add(-inputLookback), at.Add(time.Hour))
	if err != nil {
		http.Error(w, "Failed to load entries", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, h.eng.SnapshotAt(entries, in.treatments, in.statuses, in.profiles, at))
}

// engineInputs bundles the stored records an engine query needs.
type engineInputs struct {
	treatments []models.Treatment
	statuses   []models.DeviceStatus
	profiles   *engine.ProfileResolver
}

func (h *Handler) loadInputs(from, to time.Time) (*engineInputs, error) {
	treatments, err := h.store.TreatmentsBetween(from, to)
	if err != nil {
		return nil, err
	}
	statuses, err := h.store.DeviceStatusesBetween(from, to)
	if err != nil {
		return nil, err
	}
	profiles, err := h.store.Profiles()
	if err != nil {
		return nil, err
	}
	return &engineInputs{
		treatments: treatments,
		statuses:   statuses,
		profiles:   engine.NewProfileResolver(profiles, h.eng.Config()),
	}, nil
}

// windowParams reads optional from/to query params, defaulting to the last
// 24 hours.
func windowParams(r *http.Request) (time.Time, time.Time, error) {
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid to parameter")
	}

	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from parameter")
		}
	}
	return from, to, nil
}

// seriesWindow requires explicit from/to bounds for series queries.
func seriesWindow(r *http.Request) (engine.Window, error) {
	rawFrom := r.URL.Query().Get("from")
	rawTo := r.URL.Query().Get("to")
	if rawFrom == "" || rawTo == "" {
		return engine.Window{}, errors.New("from and to parameters are required")
	}

	from, err := parseTime(rawFrom)
	if err != nil {
		return engine.Window{}, errors.New("invalid from parameter")
	}
	to, err := parseTime(rawTo)
	if err != nil {
		return engine.Window{}, errors.New("invalid to parameter")
	}
	return engine.Window{Start: from, End: to}, nil
}

// writeEngineError maps sampler usage errors to 400s; anything else is a
// server fault.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidWindow),
		errors.Is(err, engine.ErrInvalidInterval),
		errors.Is(err, engine.ErrTooManyPoints):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Engine query failed", http.StatusInternalServerError)
	}
}
