package session

import "errors"

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotOpen is returned when no discussion is open.
	ErrNotOpen = errors.New("no discussion open")

	// ErrUnknownMessage is returned when an edit or delete targets a message
	// id that is not in the current list.
	ErrUnknownMessage = errors.New("unknown message id")

	// ErrEmptyMessage is returned when a send carries neither a body nor an
	// attachment.
	ErrEmptyMessage = errors.New("message needs a body or an attachment")
)
