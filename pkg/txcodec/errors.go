package txcodec

import "github.com/pkg/errors"

var (
	// ErrInvalidOutputValue is returned for non-positive or over-max output
	// values, on both the encode and decode paths.
	ErrInvalidOutputValue = errors.New("invalid output value")
	// ErrMalformedTx is returned when decoding runs out of bytes or meets
	// an impossible length field.
	ErrMalformedTx = errors.New("malformed transaction bytes")
	// ErrTooManyInputs, ErrTooManyOutputs and ErrTooManyParents are
	// pre-sign policy violations against server-supplied maximums.
	ErrTooManyInputs  = errors.New("too many inputs")
	ErrTooManyOutputs = errors.New("too many outputs")
	ErrTooManyParents = errors.New("too many parents")
	// ErrTokenValidation covers bad token names/symbols and mismatched
	// token registrations.
	ErrTokenValidation = errors.New("token validation failed")
	// ErrUnknownHeader is returned when decoding meets a header id this
	// codec does not understand.
	ErrUnknownHeader = errors.New("unknown header id")
)
