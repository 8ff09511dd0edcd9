package httpapp

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/cesargomez89/audiosource/internal/app"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/http/dto"
	"github.com/cesargomez89/audiosource/internal/jobs"
)

const listLimit = 200

func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req dto.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.start(w, r, domain.JobKindScan, jobs.Params{Force: req.ForceRescan})
}

func (h *Handler) startJob(kind domain.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.start(w, r, kind, jobs.Params{})
	}
}

// start replies 202 with the pending snapshot, or 409 with the active one.
func (h *Handler) start(w http.ResponseWriter, r *http.Request, kind domain.JobKind, params jobs.Params) {
	status, err := h.Jobs.Start(r.Context(), kind, params)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"status": status,
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (h *Handler) jobStatus(kind domain.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.Jobs.Status(kind)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (h *Handler) cancelJob(kind domain.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.Jobs.Cancel(kind)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.Scheduler.Get()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req dto.ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}
	sched, err := h.Scheduler.Update(app.ScheduleUpdate{Enabled: req.Enabled, IntervalHours: req.IntervalHours})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) ListNewReleases(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", listLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.Scrapes.ListNewReleases(limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(items))
}

func (h *Handler) ListVinylReleases(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", listLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.Scrapes.ListVinylReleases(limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(items))
}

// ListConcerts returns events from today on.
func (h *Handler) ListConcerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", listLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	items, err := h.Scrapes.ListConcerts(today, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(items))
}

// ListUpcoming returns wishlisted releases dated after today, soonest first.
func (h *Handler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	wishlist, err := h.Library.Wishlist()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	upcoming := make([]*domain.Release, 0, len(wishlist))
	for _, rel := range wishlist {
		if rel.IsUpcoming(now) {
			upcoming = append(upcoming, rel)
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].ReleaseDate < upcoming[j].ReleaseDate
	})
	writeJSON(w, http.StatusOK, upcoming)
}
