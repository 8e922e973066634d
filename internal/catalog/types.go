package catalog

import (
	"net/http"
	"time"
)

// Status is the categorized outcome of a single catalog request.
type Status int

// Categorized catalog outcomes.
const (
	StatusOK Status = iota
	StatusRateLimited
	StatusNotFound
	StatusOtherError
)

// String returns a stable label suitable for logs and metric labels.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	case StatusNotFound:
		return "not_found"
	default:
		return "other_error"
	}
}

// ClassifyStatus maps an HTTP status code onto a catalog Status.
func ClassifyStatus(code int) Status {
	switch code {
	case http.StatusOK:
		return StatusOK
	case http.StatusTooManyRequests:
		return StatusRateLimited
	case http.StatusNotFound:
		return StatusNotFound
	default:
		return StatusOtherError
	}
}

// Response is what the catalog client hands back for every request.
type Response struct {
	Status Status
	// Code is the raw HTTP status; zero when the transport failed.
	Code int
	Body []byte
	// Err carries the transport failure behind a StatusOtherError, if any.
	Err error
}

// CastMember is a person that may appear in many shows. ID is the catalog's own
// identity and is unique across the whole store.
type CastMember struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Birthdate *time.Time `json:"birthdate,omitempty"`
}

// Show is a catalog show keyed by the catalog's own ID.
type Show struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	ExternalRatingID string    `json:"external_rating_id,omitempty"`
	Rating           *float64  `json:"rating"`
	LastModified     time.Time `json:"last_modified"`
	// Cast is nil when the payload carried no cast at all; an empty non-nil
	// slice means the cast was fetched and is empty.
	Cast []CastMember `json:"cast"`
}

// HasCast reports whether cast data is attached to the show.
func (s Show) HasCast() bool {
	return s.Cast != nil
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
