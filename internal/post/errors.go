package post

import "errors"

// Error taxonomy. Components wrap these with fmt.Errorf("%w: ...") and the
// dialogue boundary classifies them with errors.Is.
var (
	ErrValidation    = errors.New("invalid input")
	ErrAuthorization = errors.New("bot is not an administrator of the destination")
	ErrProvider      = errors.New("content generation failed")
	ErrDelivery      = errors.New("delivery failed")
)
