package tryon

import (
	"regexp"
	"strings"

	"tryon/internal/history"
	"tryon/internal/services"
)

var (
	httpURLPattern = regexp.MustCompile(`(?i)^https?://.+`)
	dataURLPattern = regexp.MustCompile(`(?i)^data:image/[a-z0-9.+-]+;base64,.+`)
)

// Request is one try-on request as received from a client.
type Request struct {
	PersonImageURL  string
	GarmentImageURL string
	GarmentType     string
	Category        string
}

// ValidationError carries the client-facing reason a request was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap classifies the error as a validation failure.
func (e *ValidationError) Unwrap() error { return services.ErrValidation }

func invalid(message string) error {
	return &ValidationError{Message: message}
}

// Validate checks the request. Inline data URLs, as returned by the upload
// endpoint, are accepted only when allowData is set.
func Validate(req Request, allowData bool) error {
	if err := validateImageURL("personImageUrl", req.PersonImageURL, allowData); err != nil {
		return err
	}
	if err := validateImageURL("garmentImageUrl", req.GarmentImageURL, allowData); err != nil {
		return err
	}
	if req.GarmentType != "" && !history.ValidGarmentType(req.GarmentType) {
		return invalid("garmentType must be one of " + strings.Join(history.GarmentTypes(), ", "))
	}
	return nil
}

func validateImageURL(field, value string, allowData bool) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field + " is required and must be a string")
	}
	if httpURLPattern.MatchString(value) {
		return nil
	}
	if allowData && dataURLPattern.MatchString(value) {
		return nil
	}
	return invalid(field + " must be a valid HTTP/HTTPS URL")
}
