package voting

import "errors"

// Domain errors surfaced to callers. NotFound and conflict conditions are
// recoverable; the transport layer maps them to distinct user-facing
// rejections.
var (
	ErrSessionNotFound = errors.New("voting: session not found")
	ErrSessionEnded    = errors.New("voting: voting has ended")
	ErrAlreadyVoted    = errors.New("voting: voter already voted in this session")
	ErrInvalidRating   = errors.New("voting: rating must be between 1 and 5")
)
