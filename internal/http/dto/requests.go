package dto

import "strings"

type ScanRequest struct {
	ForceRescan bool `json:"force_rescan"`
}

type WishlistRequest struct {
	AlbumID       *int64  `json:"album_id"`
	MusicBrainzID *string `json:"musicbrainz_id"`
}

func (r *WishlistRequest) Validate() []ValidationError {
	var errs []ValidationError
	hasMBID := r.MusicBrainzID != nil && strings.TrimSpace(*r.MusicBrainzID) != ""
	if r.AlbumID == nil && !hasMBID {
		errs = append(errs, ValidationError{Field: "album_id", Message: "album_id or musicbrainz_id is required"})
	}
	errs = append(errs, validateID("album_id", r.AlbumID)...)
	if hasMBID {
		errs = append(errs, validateMBID("musicbrainz_id", r.MusicBrainzID)...)
	}
	return errs
}

type ApplyMetadataRequest struct {
	CatalogID string `json:"catalog_id"`
}

func (r *ApplyMetadataRequest) Validate() []ValidationError {
	if strings.TrimSpace(r.CatalogID) == "" {
		return []ValidationError{{Field: "catalog_id", Message: "is required"}}
	}
	return validateMBID("catalog_id", &r.CatalogID)
}

type ScheduleRequest struct {
	Enabled       *bool `json:"enabled"`
	IntervalHours *int  `json:"interval_hours"`
}

func (r *ScheduleRequest) Validate() []ValidationError {
	var errs []ValidationError
	if r.Enabled == nil && r.IntervalHours == nil {
		errs = append(errs, ValidationError{Field: "enabled", Message: "enabled or interval_hours is required"})
	}
	errs = append(errs, validateIntervalHours(r.IntervalHours)...)
	return errs
}
