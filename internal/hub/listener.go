package hub

import (
	"context"
	"net/url"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pushhub/pushhub/internal/netutil"
	"github.com/pushhub/pushhub/internal/urlutil"
)

// Listener is an endpoint that wants to hear about every topic the hub
// learns of. Each topic is announced to each listener at most once.
type Listener struct {
	CallbackURL string
	CreatedAt   time.Time

	// topic URL -> time announced
	notified *xsync.Map[string, time.Time]
}

// NewListener creates a listener after validating its callback URL.
func NewListener(callbackURL string) (*Listener, error) {
	if err := urlutil.Validate(callbackURL); err != nil {
		return nil, err
	}
	return &Listener{
		CallbackURL: callbackURL,
		CreatedAt:   time.Now(),
		notified:    xsync.NewMap[string, time.Time](),
	}, nil
}

// Knows reports whether the listener has already been told about the
// topic.
func (l *Listener) Knows(topicURL string) bool {
	_, ok := l.notified.Load(topicURL)
	return ok
}

// MarkNotified records that the topic was announced at t. Used when
// rebuilding the listener from persisted state.
func (l *Listener) MarkNotified(topicURL string, t time.Time) {
	l.notified.Store(topicURL, t)
}

// Topics returns the topic URLs the listener has been told about, in
// no particular order.
func (l *Listener) Topics() []string {
	var out []string
	l.notified.Range(func(topicURL string, _ time.Time) bool {
		out = append(out, topicURL)
		return true
	})
	return out
}

// Notify announces a topic with a GET to the listener's callback,
// carrying the topic URL in the query string. Repeat announcements for
// a known topic are skipped. Reports whether an announcement was sent
// and accepted.
func (l *Listener) Notify(ctx context.Context, client netutil.Client, topicURL string) (bool, error) {
	if l.Knows(topicURL) {
		return false, nil
	}

	target, err := appendQuery(l.CallbackURL, url.Values{"topic": {topicURL}})
	if err != nil {
		return false, err
	}
	resp, err := client.Get(ctx, target, nil)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, nil
	}
	l.notified.Store(topicURL, time.Now())
	return true, nil
}

// appendQuery merges extra query parameters into target, preserving any
// it already carries.
func appendQuery(target string, extra url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
