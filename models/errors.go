package models

import "github.com/pkg/errors"

// Error kinds shared by the engine and the opaque handle layer. Callers
// add context with errors.Wrapf; matching goes through errors.Is so the
// kind survives wrapping.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrNotInitialized       = errors.New("not initialized")
	ErrInvalidHandle        = errors.New("invalid handle")
	ErrNoData               = errors.New("no data")
)
