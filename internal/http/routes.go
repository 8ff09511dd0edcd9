package httpapp

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/cesargomez89/audiosource/internal/app"
	"github.com/cesargomez89/audiosource/internal/http/dto"
	"github.com/cesargomez89/audiosource/internal/store"
)

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Library.Stats()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ListAlbums(w http.ResponseWriter, r *http.Request) {
	var (
		filter store.ReleaseFilter
		err    error
	)
	if filter.Owned, err = queryBool(r, "owned"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Wishlisted, err = queryBool(r, "wishlisted"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit", 0); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		h.writeError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("artist_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeValidation(w, []dto.ValidationError{{Field: "artist_id", Message: "must be an integer"}})
			return
		}
		filter.ArtistID = &id
	}
	filter.Search = r.URL.Query().Get("search")

	albums, err := h.Library.ListAlbums(filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(albums))
}

func (h *Handler) GetAlbum(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	album, err := h.Library.GetAlbum(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, album)
}

func (h *Handler) AlbumCover(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, mime, err := h.Covers.Cover(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

func (h *Handler) AlbumPlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	album, err := h.Library.GetAlbum(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := app.WritePlaylist(&buf, album); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(album.Title+".m3u"))
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) MetadataMatches(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	matches, err := h.Library.MetadataMatches(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(matches))
}

func (h *Handler) ApplyMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req dto.ApplyMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}
	album, err := h.Library.ApplyMetadata(r.Context(), id, req.CatalogID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, album)
}

func (h *Handler) ListArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := h.Library.ListArtists()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(artists))
}

func (h *Handler) GetArtist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	artist, err := h.Library.GetArtist(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artist)
}

func (h *Handler) ListArtistAlbums(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	albums, err := h.Library.ListArtistAlbums(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(albums))
}

func (h *Handler) DeleteArtist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Library.DeleteArtist(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListWishlist(w http.ResponseWriter, r *http.Request) {
	albums, err := h.Library.Wishlist()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(albums))
}

func (h *Handler) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	var req dto.WishlistRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	in := app.WishlistRequest{AlbumID: req.AlbumID}
	if req.MusicBrainzID != nil {
		in.MusicBrainzID = *req.MusicBrainzID
	}
	album, err := h.Library.AddToWishlist(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, album)
}

func (h *Handler) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Library.RemoveFromWishlist(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SearchCatalog(w http.ResponseWriter, r *http.Request) {
	results, err := h.Library.SearchCatalog(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(results))
}
