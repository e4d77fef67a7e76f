package auth

import "errors"

// Init data errors. Callers must treat all of them as "authentication failed".
var (
	ErrMissingSignature = errors.New("init data: hash is missing")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("init data: malformed payload")
)

// Token errors.
var (
	ErrExpiredToken   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrMalformedToken = errors.New("malformed token")
)

// IsSignatureError reports whether err came from init data validation.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedPayload)
}

// IsTokenError reports whether err is a routine token validation failure.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrWrongTokenType) ||
		errors.Is(err, ErrMalformedToken)
}
