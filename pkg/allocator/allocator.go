package allocator

import "errors"

var (
	ErrPoolExhausted = errors.New("pool exhausted")
	ErrNotInPool     = errors.New("address not in pool")
	ErrInvalidRange  = errors.New("invalid range")
)
