package httpapp

import (
	"context"
	"errors"
	"net/http"

	"github.com/cesargomez89/audiosource/internal/domain"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	downloads, err := h.Downloads.List(limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(downloads))
}

// DownloadsStatus reports whether peer downloads are configured and slskd
// answers.
func (h *Handler) DownloadsStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"enabled":   h.Downloads.Enabled(),
		"available": h.Downloads.Available(r.Context()),
	})
}

func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.Downloads.Start(r.Context(), id)
	if errors.Is(err, domain.ErrConflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    err.Error(),
			"download": d,
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d)
}

func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	d, err := h.Downloads.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) MoveDownload(w http.ResponseWriter, r *http.Request) {
	h.downloadAction(w, r, h.Downloads.Move)
}

func (h *Handler) RetryDownload(w http.ResponseWriter, r *http.Request) {
	h.downloadAction(w, r, h.Downloads.Retry)
}

func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	h.downloadAction(w, r, h.Downloads.Cancel)
}

func (h *Handler) downloadAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) (*domain.Download, error)) {
	d, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.Downloads.Delete(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
