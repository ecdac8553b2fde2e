package service

import "errors"

var (
	// ErrInvalidArgument rejects malformed commands, e.g. a private room
	// whose member set is not exactly two.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound means a referenced user or invitation does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrDenied is the uniform authorization denial for room-scoped
	// commands. It is deliberately identical whether the room exists or
	// not, so a non-member cannot probe for room ids.
	ErrDenied = errors.New("authorization denied")
)
