package auth

import "errors"

// Kind classifies an authentication failure independently of the identity
// provider that produced it.
type Kind string

const (
	KindInvalidEmail      Kind = "invalid-email"
	KindEmailInUse        Kind = "email-in-use"
	KindWeakPassword      Kind = "weak-password"
	KindUserNotFound      Kind = "user-not-found"
	KindWrongPassword     Kind = "wrong-password"
	KindInvalidCredential Kind = "invalid-credential"
	KindTooManyRequests   Kind = "too-many-requests"
	KindUnknown           Kind = "unknown"
)

// Message is the user-facing text for k.
func (k Kind) Message() string {
	switch k {
	case KindEmailInUse:
		return "This email is already registered"
	case KindInvalidEmail:
		return "Invalid email address"
	case KindWeakPassword:
		return "Password is too weak"
	case KindUserNotFound:
		return "No account found with this email"
	case KindWrongPassword:
		return "Incorrect password"
	case KindInvalidCredential:
		return "Invalid email or password"
	case KindTooManyRequests:
		return "Too many attempts. Please try again later"
	}
	return "Authentication failed"
}

// Error is an authentication failure.
type Error struct {
	Kind Kind
	// Err is the underlying cause, if any. Never shown to users.
	Err error
}

func (e *Error) Error() string {
	return e.Kind.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(k Kind) *Error {
	return &Error{Kind: k}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
