package dto

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) ToMap() map[string]string {
	return map[string]string{e.Field: e.Message}
}

func ToMap(errs []ValidationError) map[string]string {
	result := make(map[string]string)
	for _, e := range errs {
		result[e.Field] = e.Message
	}
	return result
}

func ToResponse(errs []ValidationError) string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// validateMBID accepts MusicBrainz identifiers, which are UUIDs.
func validateMBID(field string, mbid *string) []ValidationError {
	var errs []ValidationError
	if mbid != nil && *mbid != "" {
		if _, err := uuid.Parse(*mbid); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: "invalid MusicBrainz id (expected a UUID)"})
		}
	}
	return errs
}

func validateID(field string, id *int64) []ValidationError {
	var errs []ValidationError
	if id != nil && *id <= 0 {
		errs = append(errs, ValidationError{Field: field, Message: "must be a positive integer"})
	}
	return errs
}

func validateIntervalHours(hours *int) []ValidationError {
	var errs []ValidationError
	if hours != nil {
		if *hours < 1 || *hours > 720 {
			errs = append(errs, ValidationError{Field: "interval_hours", Message: "must be between 1 and 720"})
		}
	}
	return errs
}
