package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cesargomez89/audiosource/internal/app"
	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/cesargomez89/audiosource/internal/http/dto"
	"github.com/cesargomez89/audiosource/internal/jobs"
	"github.com/cesargomez89/audiosource/internal/logger"
	"github.com/go-chi/chi/v5"
)

// Jobs is the job registry as seen by the API.
type Jobs interface {
	Start(ctx context.Context, kind domain.JobKind, params jobs.Params) (domain.JobStatus, error)
	Status(kind domain.JobKind) (domain.JobStatus, error)
	Cancel(kind domain.JobKind) (domain.JobStatus, error)
}

type Downloads interface {
	Enabled() bool
	Available(ctx context.Context) bool
	Start(ctx context.Context, releaseID int64) (*domain.Download, error)
	Get(id string) (*domain.Download, error)
	List(limit int) ([]*domain.Download, error)
	Move(ctx context.Context, id string) (*domain.Download, error)
	Retry(ctx context.Context, id string) (*domain.Download, error)
	Cancel(ctx context.Context, id string) (*domain.Download, error)
	Delete(id string) error
}

// Scrapes lists the records stored by the scrape jobs.
type Scrapes interface {
	ListNewReleases(limit int) ([]*domain.NewRelease, error)
	ListVinylReleases(limit int) ([]*domain.VinylRelease, error)
	ListConcerts(from time.Time, limit int) ([]*domain.Concert, error)
}

type Handler struct {
	Jobs      Jobs
	Library   *app.Library
	Covers    *app.Covers
	Scheduler *app.Scheduler
	Downloads Downloads
	Scrapes   Scrapes
	Logger    *logger.Logger
}

func NewHandler(j Jobs, lib *app.Library, covers *app.Covers, sched *app.Scheduler, dl Downloads, scrapes Scrapes, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Jobs:      j,
		Library:   lib,
		Covers:    covers,
		Scheduler: sched,
		Downloads: dl,
		Scrapes:   scrapes,
		Logger:    log.WithComponent("http"),
	}
}

type scrapeRoute struct {
	path string
	kind domain.JobKind
	list http.HandlerFunc
}

func (h *Handler) scrapeRoutes() []scrapeRoute {
	return []scrapeRoute{
		{path: "new-releases", kind: domain.JobKindNewReleases, list: h.ListNewReleases},
		{path: "vinyl-releases", kind: domain.JobKindVinyl, list: h.ListVinylReleases},
		{path: "concerts", kind: domain.JobKindConcerts, list: h.ListConcerts},
		{path: "upcoming", kind: domain.JobKindUpcomingCheck, list: h.ListUpcoming},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)

		r.Get("/albums", h.ListAlbums)
		r.Get("/albums/{id}", h.GetAlbum)
		r.Get("/albums/{id}/cover", h.AlbumCover)
		r.Get("/albums/{id}/playlist.m3u", h.AlbumPlaylist)
		r.Get("/albums/{id}/metadata-matches", h.MetadataMatches)
		r.Post("/albums/{id}/apply-metadata", h.ApplyMetadata)

		r.Get("/artists", h.ListArtists)
		r.Get("/artists/{id}", h.GetArtist)
		r.Get("/artists/{id}/albums", h.ListArtistAlbums)
		r.Delete("/artists/{id}", h.DeleteArtist)

		r.Post("/scan", h.StartScan)
		r.Get("/scan/status", h.jobStatus(domain.JobKindScan))
		r.Post("/scan/cancel", h.cancelJob(domain.JobKindScan))
		r.Get("/scan/schedule", h.GetSchedule)
		r.Put("/scan/schedule", h.UpdateSchedule)

		r.Get("/wishlist", h.ListWishlist)
		r.Post("/wishlist", h.AddToWishlist)
		r.Delete("/wishlist/{id}", h.RemoveFromWishlist)

		r.Get("/search/musicbrainz", h.SearchCatalog)

		for _, s := range h.scrapeRoutes() {
			r.Post("/"+s.path+"/scrape", h.startJob(s.kind))
			r.Get("/"+s.path+"/status", h.jobStatus(s.kind))
			r.Post("/"+s.path+"/cancel", h.cancelJob(s.kind))
			r.Get("/"+s.path, s.list)
		}

		r.Post("/downloads/wishlist", h.startJob(domain.JobKindWishlistBatch))
		r.Get("/downloads/wishlist/status", h.jobStatus(domain.JobKindWishlistBatch))
		r.Post("/downloads/wishlist/cancel", h.cancelJob(domain.JobKindWishlistBatch))
		r.Get("/downloads", h.ListDownloads)
		r.Get("/downloads/status", h.DownloadsStatus)
		r.Post("/downloads/{id}", h.StartDownload)
		r.Get("/downloads/{id}", h.GetDownload)
		r.Post("/downloads/{id}/move", h.MoveDownload)
		r.Post("/downloads/{id}/retry", h.RetryDownload)
		r.Post("/downloads/{id}/cancel", h.CancelDownload)
		r.Delete("/downloads/{id}", h.DeleteDownload)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeValidation(w http.ResponseWriter, errs []dto.ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  dto.ToResponse(errs),
		"fields": dto.ToMap(errs),
	})
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("malformed request body: %v: %w", err, domain.ErrInvalidInput)
}

func parseID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, domain.ErrInvalidInput)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, domain.ErrInvalidInput)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, raw, domain.ErrInvalidInput)
	}
	return &b, nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
