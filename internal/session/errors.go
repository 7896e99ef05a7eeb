package session

import "errors"

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session: start called more than once")

	// ErrEnded is returned by Start once the session ended or failed to connect.
	ErrEnded = errors.New("session: session already ended")

	// ErrNotStarted is returned by End and by remote calls before Start.
	ErrNotStarted = errors.New("session: session not started")

	// ErrStarting is returned by End while Start is still connecting.
	// Cancel the context given to Start to abort it instead.
	ErrStarting = errors.New("session: start in progress")

	// ErrConnect means the handshake never succeeded.
	ErrConnect = errors.New("session: unable to connect to simulator")
)
