// Package hub implements the core publish/subscribe engine: topic
// tracking, subscription verification, and fan-out of changed content
// into the delivery queue.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pushhub/pushhub/internal/feed"
	"github.com/pushhub/pushhub/internal/netutil"
	"github.com/pushhub/pushhub/internal/urlutil"
)

// Hub holds the runtime registries and the collaborators topics need
// to fetch and fan out content.
type Hub struct {
	// URL is the hub's public base URL, advertised in outbound
	// fetch requests.
	URL string

	client netutil.Client
	cache  *feed.ParseCache
	queue  DeliveryQueue

	topics      *xsync.Map[string, *Topic]
	subscribers *xsync.Map[string, *Subscriber]
	listeners   *xsync.Map[string, *Listener]
}

// New creates an empty hub.
func New(hubURL string, client netutil.Client, cache *feed.ParseCache, queue DeliveryQueue) *Hub {
	return &Hub{
		URL:         hubURL,
		client:      client,
		cache:       cache,
		queue:       queue,
		topics:      xsync.NewMap[string, *Topic](),
		subscribers: xsync.NewMap[string, *Subscriber](),
		listeners:   xsync.NewMap[string, *Listener](),
	}
}

// GetOrCreateTopic returns the topic for the given URL, creating it if
// absent. The URL is IRI-normalized before lookup so Unicode and
// percent-encoded spellings land on the same topic. Reports whether the
// topic was created by this call.
func (h *Hub) GetOrCreateTopic(topicURL string) (*Topic, bool, error) {
	normalized := urlutil.NormalizeIRI(topicURL)
	if existing, ok := h.topics.Load(normalized); ok {
		return existing, false, nil
	}
	fresh, err := NewTopic(normalized)
	if err != nil {
		return nil, false, err
	}
	actual, loaded := h.topics.LoadOrStore(normalized, fresh)
	return actual, !loaded, nil
}

// Topic returns a tracked topic, or ErrNotFound.
func (h *Hub) Topic(topicURL string) (*Topic, error) {
	t, ok := h.topics.Load(urlutil.NormalizeIRI(topicURL))
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Topics returns all tracked topics in no particular order.
func (h *Hub) Topics() []*Topic {
	var out []*Topic
	h.topics.Range(func(_ string, t *Topic) bool {
		out = append(out, t)
		return true
	})
	return out
}

// TopicCount returns the number of tracked topics.
func (h *Hub) TopicCount() int {
	return h.topics.Size()
}

// Publish records a publisher ping for each topic URL, creating topics
// the hub has not seen before. Returns the pinged topics and the subset
// that are new. Any invalid URL fails the whole batch before state is
// touched.
func (h *Hub) Publish(topicURLs []string) (pinged, created []*Topic, err error) {
	for _, raw := range topicURLs {
		normalized := urlutil.NormalizeIRI(raw)
		if err := urlutil.Validate(normalized); err != nil {
			return nil, nil, err
		}
		if !urlutil.HasPath(normalized) {
			return nil, nil, fmt.Errorf("%w: topic URL %q has no path", urlutil.ErrInvalidURL, raw)
		}
	}
	for _, raw := range topicURLs {
		t, isNew, err := h.GetOrCreateTopic(raw)
		if err != nil {
			return nil, nil, err
		}
		t.Ping()
		pinged = append(pinged, t)
		if isNew {
			created = append(created, t)
		}
	}
	return pinged, created, nil
}

// Subscribe verifies a subscription request with the callback and, on
// success, attaches the callback to the topic. Returns false with a nil
// error when the callback declines or cannot be reached.
func (h *Hub) Subscribe(ctx context.Context, callbackURL, topicURL string) (bool, error) {
	if err := urlutil.Validate(callbackURL); err != nil {
		return false, err
	}
	topic, _, err := h.GetOrCreateTopic(topicURL)
	if err != nil {
		return false, err
	}

	if !verifyIntent(ctx, h.client, "subscribe", topic.URL, callbackURL) {
		return false, nil
	}

	sub, err := NewSubscriber(callbackURL)
	if err != nil {
		return false, err
	}
	actual, _ := h.subscribers.LoadOrStore(callbackURL, sub)
	topic.AddSubscriber(actual)
	return true, nil
}

// Unsubscribe verifies an unsubscription request and, on success,
// detaches the callback from the topic. Unknown topics and callbacks
// are still verified against; a callback that was never attached is
// tolerated.
func (h *Hub) Unsubscribe(ctx context.Context, callbackURL, topicURL string) (bool, error) {
	if err := urlutil.Validate(callbackURL); err != nil {
		return false, err
	}
	topic, _, err := h.GetOrCreateTopic(topicURL)
	if err != nil {
		return false, err
	}

	if !verifyIntent(ctx, h.client, "unsubscribe", topic.URL, callbackURL) {
		return false, nil
	}
	if err := topic.RemoveSubscriber(callbackURL); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return true, nil
}

// Subscriber returns a known subscriber, or ErrNotFound.
func (h *Hub) Subscriber(callbackURL string) (*Subscriber, error) {
	s, ok := h.subscribers.Load(callbackURL)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Subscribers returns all known subscribers in no particular order.
func (h *Hub) Subscribers() []*Subscriber {
	var out []*Subscriber
	h.subscribers.Range(func(_ string, s *Subscriber) bool {
		out = append(out, s)
		return true
	})
	return out
}

// RegisterListener adds a listener callback, reporting whether it was
// new. Registering an existing callback is a no-op.
func (h *Hub) RegisterListener(callbackURL string) (*Listener, bool, error) {
	if existing, ok := h.listeners.Load(callbackURL); ok {
		return existing, false, nil
	}
	fresh, err := NewListener(callbackURL)
	if err != nil {
		return nil, false, err
	}
	actual, loaded := h.listeners.LoadOrStore(callbackURL, fresh)
	return actual, !loaded, nil
}

// Listeners returns all registered listeners in no particular order.
func (h *Hub) Listeners() []*Listener {
	var out []*Listener
	h.listeners.Range(func(_ string, l *Listener) bool {
		out = append(out, l)
		return true
	})
	return out
}

// ListenerNotification records one delivered topic announcement.
type ListenerNotification struct {
	CallbackURL string
	TopicURL    string
	At          time.Time
}

// NotifyListeners announces a topic to every listener that has not
// heard of it yet and returns the announcements that were accepted.
// Listener failures are skipped, to be retried on the next new publish
// of the topic.
func (h *Hub) NotifyListeners(ctx context.Context, topicURL string) []ListenerNotification {
	var sent []ListenerNotification
	h.listeners.Range(func(_ string, l *Listener) bool {
		ok, err := l.Notify(ctx, h.client, topicURL)
		if err == nil && ok {
			sent = append(sent, ListenerNotification{
				CallbackURL: l.CallbackURL,
				TopicURL:    topicURL,
				At:          time.Now(),
			})
		}
		return true
	})
	return sent
}

// RestoreTopic recreates a topic from persisted state. Startup only.
func (h *Hub) RestoreTopic(snap Snapshot) (*Topic, error) {
	t, _, err := h.GetOrCreateTopic(snap.URL)
	if err != nil {
		return nil, err
	}
	t.Restore(snap)
	return t, nil
}

// RestoreSubscriber recreates a subscriber from persisted state without
// re-verifying it. Startup only.
func (h *Hub) RestoreSubscriber(callbackURL string, createdAt time.Time) (*Subscriber, error) {
	s, err := NewSubscriber(callbackURL)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = createdAt
	actual, _ := h.subscribers.LoadOrStore(callbackURL, s)
	return actual, nil
}

// RestoreListener recreates a listener from persisted state. Startup
// only.
func (h *Hub) RestoreListener(callbackURL string, createdAt time.Time) (*Listener, error) {
	l, err := NewListener(callbackURL)
	if err != nil {
		return nil, err
	}
	l.CreatedAt = createdAt
	actual, _ := h.listeners.LoadOrStore(callbackURL, l)
	return actual, nil
}

// FetchTopic fetches one topic's content and fans out changes to its
// subscribers.
func (h *Hub) FetchTopic(ctx context.Context, t *Topic) error {
	if err := t.Fetch(ctx, h.client, h.cache, h.URL); err != nil {
		return err
	}
	return t.NotifySubscribers(h.queue)
}
