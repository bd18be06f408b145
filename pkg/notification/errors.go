package notification

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid notification configuration")
	ErrFailedToSendEmail = errors.New("failed to send email")
)
