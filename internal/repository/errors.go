package repository

import "errors"

// Storage-level sentinel errors. The pgx and in-memory implementations
// both report through these so services stay driver-agnostic.
var (
	ErrNotFound = errors.New("repository: record not found")

	// ErrAlreadyAssigned means the claim's conditional write found an
	// assignee already present.
	ErrAlreadyAssigned = errors.New("repository: ticket already assigned")

	// ErrTicketClosed means the write targeted a closed ticket.
	ErrTicketClosed = errors.New("repository: ticket closed")

	// ErrStatusChanged means the conditional status update found a
	// different current status than the caller observed.
	ErrStatusChanged = errors.New("repository: ticket status changed concurrently")

	ErrDuplicateEmail = errors.New("repository: email already registered")
)
