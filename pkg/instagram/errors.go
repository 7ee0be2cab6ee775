package instagram

import "errors"

// Error is a classified upstream failure. Kind is a stable name used to
// group errors for notification; two Errors with the same Kind match under
// errors.Is regardless of message.
type Error struct {
	Kind    string
	Message string
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

// Category returns the error's stable group name.
func (e *Error) Category() string {
	return e.Kind
}

// Is matches any *Error carrying the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

var (
	// ErrLoginRequired indicates the current session is no longer accepted
	// and a fresh login is needed.
	ErrLoginRequired = &Error{Kind: "LoginRequired", Message: "login required"}

	// ErrUnauthorized indicates the upstream rejected the request outright.
	ErrUnauthorized = &Error{Kind: "ClientUnauthorized", Message: "client unauthorized"}

	// ErrProxy indicates a failure at the connection proxy level.
	ErrProxy = &Error{Kind: "ProxyError", Message: "proxy error"}

	// ErrChallengeRequired indicates Instagram demands human interaction
	// (checkpoint/challenge) before the account can be used again.
	ErrChallengeRequired = &Error{Kind: "ChallengeRequired", Message: "challenge required"}

	// ErrUserNotFound indicates a lookup target does not exist. This is an
	// expected outcome, not a fault: handlers translate it to a 404.
	ErrUserNotFound = &Error{Kind: "UserNotFound", Message: "user not found"}
)

// IsAuthError reports whether err means the session itself is invalid. The
// caller is expected to reset the session manager and enqueue the error for
// notification.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrLoginRequired) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrProxy)
}

// IsChallengeError reports whether err requires human interaction. The
// caller should enqueue the error for notification without resetting the
// session, since a fresh login cannot clear a challenge.
func IsChallengeError(err error) bool {
	return errors.Is(err, ErrChallengeRequired)
}
