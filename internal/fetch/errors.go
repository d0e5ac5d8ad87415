package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindServerError Kind = "server_error"
	KindTimeout     Kind = "timeout"
	KindNotFound    Kind = "not_found"
	KindNetwork     Kind = "network"
	KindBadContent  Kind = "bad_content"
)

var ErrEmptyUserAgent = errors.New("user agent is required")

// Error is returned by Fetch for every failed request. Attempts counts the
// requests issued before giving up.
type Error struct {
	Kind     Kind
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

// IsKind reports whether err is a fetch Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
