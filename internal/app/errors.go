package app

import "errors"

var (
	// ErrInvalidAmount indicates a payment amount that converts to less than
	// one minor unit; no charge is attempted.
	ErrInvalidAmount = errors.New("invalid payment amount")
	// ErrNotOwner indicates the caller does not own the appointment.
	ErrNotOwner = errors.New("appointment not owned by caller")
	// ErrNoReport indicates no report file has been attached yet.
	ErrNoReport = errors.New("no report attached")
)
