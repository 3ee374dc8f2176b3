package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAlertExists is returned when creating an alert whose id is already
	// stored. Callers treat it as "already ingested, no-op".
	ErrAlertExists = errors.New("alert already exists")

	// ErrAlertNotFound is returned when a referenced alert is absent.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrEmptyMessage is returned when an ingested event carries no message.
	ErrEmptyMessage = errors.New("alert message is empty")

	// ErrDegradedIngest is returned when the alert was persisted but could
	// not be enqueued for analysis. It must be resubmitted manually.
	ErrDegradedIngest = errors.New("alert stored but not enqueued")

	// ErrMalformedPayload is returned when a queue message cannot be parsed.
	ErrMalformedPayload = errors.New("malformed message payload")

	// ErrInvalidSignature is returned when an interaction callback fails
	// signature verification.
	ErrInvalidSignature = errors.New("invalid request signature")

	// ErrStaleTimestamp is returned when an interaction callback timestamp
	// is outside the freshness window.
	ErrStaleTimestamp = errors.New("request timestamp outside freshness window")

	// ErrTicketClaimed is returned when another processor already claimed
	// ticket creation for the alert.
	ErrTicketClaimed = errors.New("ticket creation already claimed")
)

// permanentError marks an error as non-retryable for the queue retry policy.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should never be retried: malformed input,
// missing prerequisite records, auth failures, and external 4xx responses.
// Everything else is treated as transient and left to the transport's
// redelivery budget.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Permanent()
	}
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrEmptyMessage)
}

// StatusError carries the HTTP-like status class of an external collaborator
// failure so the retry policy can distinguish 4xx from 5xx.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

// Permanent reports whether the status class makes retrying pointless.
func (e *StatusError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500
}
