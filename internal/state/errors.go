package state

import "errors"

// ErrNotFound indicates a row lookup matched nothing.
var ErrNotFound = errors.New("state: not found")
