// Package web holds the JSON and error rendering shared by the HTTP handlers.
package web

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"libcirc/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Problem is the body written for every failed request.
type Problem struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return p.Title + ": " + p.Detail
}

// Is matches a decoded Problem against the error kind its status stands for.
func (p *Problem) Is(target error) bool {
	switch p.Status {
	case http.StatusUnprocessableEntity:
		return target == domain.ErrValidation
	case http.StatusNotFound:
		return target == domain.ErrNotFound
	case http.StatusConflict:
		return target == domain.ErrConflict
	case http.StatusUnauthorized:
		return target == domain.ErrInvalidCredentials
	case http.StatusTooManyRequests:
		return target == domain.ErrRateLimited
	default:
		return false
	}
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads a JSON request body into v. A malformed body is a validation failure.
func Decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return &domain.ValidationError{Field: "body", Message: "unreadable request body"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "malformed JSON body"}
	}
	return nil
}

// Error renders err as a Problem with the status matching its kind.
func Error(w http.ResponseWriter, err error) {
	p := ProblemFor(err)
	if p.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="library"`)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// ProblemFor maps an error kind to its HTTP status.
func ProblemFor(err error) *Problem {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return &Problem{Status: http.StatusUnprocessableEntity, Title: "Validation Error", Detail: verr.Message, Field: verr.Field}
	case errors.Is(err, domain.ErrNotFound):
		return &Problem{Status: http.StatusNotFound, Title: "Not Found", Detail: err.Error()}
	case errors.Is(err, domain.ErrConflict):
		return &Problem{Status: http.StatusConflict, Title: "Conflict", Detail: err.Error()}
	case errors.Is(err, domain.ErrInvalidCredentials):
		return &Problem{Status: http.StatusUnauthorized, Title: "Unauthorized", Detail: err.Error()}
	case errors.Is(err, domain.ErrRateLimited):
		return &Problem{Status: http.StatusTooManyRequests, Title: "Too Many Requests", Detail: err.Error()}
	case errors.Is(err, domain.ErrStorage):
		return &Problem{Status: http.StatusInternalServerError, Title: "Storage Error", Detail: "the library records could not be saved or read"}
	default:
		return &Problem{Status: http.StatusInternalServerError, Title: "Internal Server Error"}
	}
}
