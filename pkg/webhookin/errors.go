package webhookin

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrMissingSignature     = errors.New("missing webhook signature header")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrTimestampOutOfRange  = errors.New("webhook timestamp outside tolerance window")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
)
