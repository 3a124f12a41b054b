package hub

import (
	"time"

	"github.com/pushhub/pushhub/internal/urlutil"
)

// Subscriber is an endpoint that receives topic content by POST after a
// verified subscription.
type Subscriber struct {
	CallbackURL string
	CreatedAt   time.Time
}

// NewSubscriber creates a subscriber after validating its callback URL.
// Callback URLs may be bare hosts; no path is required.
func NewSubscriber(callbackURL string) (*Subscriber, error) {
	if err := urlutil.Validate(callbackURL); err != nil {
		return nil, err
	}
	return &Subscriber{
		CallbackURL: callbackURL,
		CreatedAt:   time.Now(),
	}, nil
}
