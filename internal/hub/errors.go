package hub

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a lookup in one of the hub registries matched
// nothing.
var ErrNotFound = errors.New("hub: not found")

// InvalidContentError indicates a topic fetch completed but produced
// unusable content: a non-200 response or a body no feed parser could
// make sense of.
type InvalidContentError struct {
	URL    string
	Reason string
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("hub: invalid content from %s: %s", e.URL, e.Reason)
}

// UnsupportedContentTypeError indicates topic content whose feed type
// maps to no known delivery content type.
type UnsupportedContentTypeError struct {
	Have string
}

func (e *UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("hub: unsupported content type %q", e.Have)
}
