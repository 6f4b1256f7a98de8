package dhcp

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader    = errors.New("malformed header")
	ErrInvalidMagicCookie = errors.New("invalid magic cookie")
	ErrTruncatedOption    = errors.New("truncated option")
	ErrInvalidOptionValue = errors.New("invalid option value")
	ErrOptionNotFound     = errors.New("option not found")
)

// DecodeError reports where in the buffer decoding stopped.
type DecodeError struct {
	Err    error
	Offset int
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("decode at offset %d: %v: %s", e.Offset, e.Err, e.Detail)
	}
	return fmt.Sprintf("decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// OptionError carries the tag of an option whose value breaks its length
// or range rule.
type OptionError struct {
	Code   OptionCode
	Detail string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("%v: %s (%d): %s", ErrInvalidOptionValue, e.Code, uint8(e.Code), e.Detail)
}

func (e *OptionError) Unwrap() error {
	return ErrInvalidOptionValue
}

func invalidOption(code OptionCode, format string, args ...any) error {
	return &OptionError{Code: code, Detail: fmt.Sprintf(format, args...)}
}
