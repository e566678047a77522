package sendgate

import "errors"

// Token failures. Callers facing end users should collapse these with
// IsTokenFailure rather than reveal which check failed.
var (
	ErrMalformedToken     = errors.New("malformed token")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrExpired            = errors.New("token expired")
	ErrTooOld             = errors.New("token too old")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrTokenReplayed      = errors.New("token already used")
)

// Malformed input.
var (
	ErrEmptySubject        = errors.New("subject email is empty")
	ErrEmptyRecipient      = errors.New("recipient is empty")
	ErrUnknownMessageClass = errors.New("unknown message class")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrTTLTooLong          = errors.New("token ttl exceeds the service lifetime")
)

// Configuration.
var (
	ErrMissingSecret         = errors.New("signing secret is required outside development")
	ErrDevSecretInProduction = errors.New("development signing secret used outside development")
	ErrWeakSecret            = errors.New("signing secret is too short")
)

var tokenFailures = []error{
	ErrMalformedToken,
	ErrInvalidSignature,
	ErrInvalidPayload,
	ErrExpired,
	ErrTooOld,
	ErrInvalidEmailFormat,
	ErrTokenReplayed,
}

// IsTokenFailure reports whether err is any token verification failure.
func IsTokenFailure(err error) bool {
	for _, target := range tokenFailures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FailureReason maps a token failure to a short label for logs and metrics.
// It returns "" for errors that are not token failures.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrInvalidSignature):
		return "signature"
	case errors.Is(err, ErrInvalidPayload):
		return "payload"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrTooOld):
		return "too_old"
	case errors.Is(err, ErrInvalidEmailFormat):
		return "email"
	case errors.Is(err, ErrTokenReplayed):
		return "replayed"
	}
	return ""
}
