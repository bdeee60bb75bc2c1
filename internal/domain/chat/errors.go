package chat

import (
	"errors"
	"fmt"
)

// Error taxonomy of the messaging core. Transports classify with errors.Is.
var (
	ErrPermissionDenied = errors.New("chat: permission denied")
	ErrNotFound         = errors.New("chat: not found")
	ErrValidation       = errors.New("chat: validation failed")
	ErrTransientStore   = errors.New("chat: store unavailable")
	ErrUnauthorized     = errors.New("chat: unauthorized")
)

var (
	ErrNotParticipant       = fmt.Errorf("%w: not a conversation participant", ErrPermissionDenied)
	ErrSelfConversation     = fmt.Errorf("%w: cannot message yourself", ErrPermissionDenied)
	ErrOwnListing           = fmt.Errorf("%w: cannot start a conversation about your own listing", ErrPermissionDenied)
	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrListingNotFound      = fmt.Errorf("%w: listing", ErrNotFound)
	ErrEmptyContent         = fmt.Errorf("%w: message content is required", ErrValidation)
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Invalid builds a validation error with a caller-facing message.
func Invalid(format string, args ...any) error {
	return invalid(fmt.Sprintf(format, args...))
}

// Transient wraps a store failure unless it already belongs to the taxonomy.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientStore, op, err)
}

// IsClassified reports whether err carries one of the taxonomy sentinels.
func IsClassified(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrTransientStore) ||
		errors.Is(err, ErrUnauthorized)
}
