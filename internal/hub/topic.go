package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pushhub/pushhub/internal/feed"
	"github.com/pushhub/pushhub/internal/netutil"
	"github.com/pushhub/pushhub/internal/urlutil"
)

// deliveryContentTypes maps a parsed feed version to the Content-Type
// announced on subscriber deliveries.
var deliveryContentTypes = map[string]string{
	"atom": "application/atom+xml",
	"rss":  "application/rss+xml",
}

// DeliveryQueue accepts notification jobs for later delivery. Satisfied
// by queue.Queue.
type DeliveryQueue interface {
	Enqueue(callbackURL string, headers map[string]string, body []byte) error
}

// Topic is a feed URL the hub tracks, together with its last fetched
// content and the subscribers waiting on it.
type Topic struct {
	URL string

	mu          sync.Mutex
	content     []byte
	contentType string
	fetchedAt   time.Time
	lastPinged  time.Time
	changed     bool
	failed      bool

	subscribers *xsync.Map[string, *Subscriber]
}

// NewTopic creates a topic for the given feed URL. Topic URLs must
// carry a path; a bare host is not a feed.
func NewTopic(topicURL string) (*Topic, error) {
	if err := urlutil.Validate(topicURL); err != nil {
		return nil, err
	}
	if !urlutil.HasPath(topicURL) {
		return nil, fmt.Errorf("%w: topic URL %q has no path", urlutil.ErrInvalidURL, topicURL)
	}
	return &Topic{
		URL:         topicURL,
		lastPinged:  time.Now(),
		subscribers: xsync.NewMap[string, *Subscriber](),
	}, nil
}

// Ping records that a publisher announced new content. The fetch
// happens separately.
func (t *Topic) Ping() {
	t.mu.Lock()
	t.lastPinged = time.Now()
	t.mu.Unlock()
}

// AddSubscriber attaches a subscriber to this topic. Adding the same
// callback twice is a no-op.
func (t *Topic) AddSubscriber(s *Subscriber) {
	t.subscribers.LoadOrStore(s.CallbackURL, s)
}

// RemoveSubscriber detaches a callback, returning ErrNotFound if it was
// never attached.
func (t *Topic) RemoveSubscriber(callbackURL string) error {
	if _, ok := t.subscribers.LoadAndDelete(callbackURL); !ok {
		return ErrNotFound
	}
	return nil
}

// SubscriberCount returns the number of attached subscribers.
func (t *Topic) SubscriberCount() int {
	return t.subscribers.Size()
}

// Subscribers returns the attached subscribers in no particular order.
func (t *Topic) Subscribers() []*Subscriber {
	var out []*Subscriber
	t.subscribers.Range(func(_ string, s *Subscriber) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Snapshot is the persistable view of a topic.
type Snapshot struct {
	URL         string
	Content     []byte
	ContentType string
	FetchedAt   time.Time
	LastPinged  time.Time
	Changed     bool
	Failed      bool
}

// Snapshot returns a copy of the topic's current state.
func (t *Topic) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	content := make([]byte, len(t.content))
	copy(content, t.content)
	return Snapshot{
		URL:         t.URL,
		Content:     content,
		ContentType: t.contentType,
		FetchedAt:   t.fetchedAt,
		LastPinged:  t.lastPinged,
		Changed:     t.changed,
		Failed:      t.failed,
	}
}

// Restore loads persisted state into the topic. Used at startup only,
// before the topic is shared.
func (t *Topic) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.content = s.Content
	t.contentType = s.ContentType
	t.fetchedAt = s.FetchedAt
	t.lastPinged = s.LastPinged
	t.changed = s.Changed
	t.failed = s.Failed
}

// Failed reports whether the last fetch attempt could not reach the
// feed.
func (t *Topic) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Changed reports whether the topic holds content subscribers have not
// been notified of yet.
func (t *Topic) Changed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Fetch pulls the feed, diffs it against the previous content, and
// stores the result. Unreachable feeds mark the topic failed and return
// nil; reachable feeds with unusable content return InvalidContentError.
func (t *Topic) Fetch(ctx context.Context, client netutil.Client, cache *feed.ParseCache, hubURL string) error {
	t.mu.Lock()
	past := t.content
	t.mu.Unlock()

	header := http.Header{
		"User-Agent": {fmt.Sprintf("PuSH Hub (+%s; %d)", hubURL, t.SubscriberCount())},
	}
	resp, err := client.Get(ctx, t.URL, header)
	if err != nil {
		var transport *netutil.TransportError
		if errors.As(err, &transport) {
			t.mu.Lock()
			t.failed = true
			t.mu.Unlock()
			return nil
		}
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &InvalidContentError{URL: t.URL, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	parsed := cache.Parse(resp.Body)
	if parsed == nil || parsed.Bozo {
		return &InvalidContentError{URL: t.URL, Reason: "unparseable feed"}
	}

	content := resp.Body
	changed := false
	if len(past) == 0 {
		changed = true
	} else if feed.Fingerprint(past) != feed.Fingerprint(resp.Body) {
		pastParsed := cache.Parse(past)
		if pastParsed == nil || pastParsed.Bozo {
			changed = true
		} else {
			delta := feed.Compare(parsed, pastParsed)
			if delta.HasChanges() {
				regenerated, err := feed.Generate(delta.Metadata.Feed, delta.ChangedEntries())
				if err != nil {
					return fmt.Errorf("regenerate %s: %w", t.URL, err)
				}
				content = regenerated
				changed = true
			}
		}
	}

	t.mu.Lock()
	t.content = content
	if t.contentType == "" && parsed.Version != "" {
		t.contentType = parsed.Version
	}
	t.fetchedAt = time.Now()
	if changed {
		t.changed = true
	}
	t.failed = false
	t.mu.Unlock()
	return nil
}

// NotifySubscribers enqueues the current content for every attached
// subscriber and clears the changed flag. A topic with no subscribers
// or no pending change is a no-op.
func (t *Topic) NotifySubscribers(q DeliveryQueue) error {
	if t.SubscriberCount() == 0 {
		return nil
	}

	t.mu.Lock()
	if !t.changed {
		t.mu.Unlock()
		return nil
	}
	content := t.content
	contentType := t.contentType
	t.mu.Unlock()

	delivery, err := deliveryContentType(contentType)
	if err != nil {
		return err
	}

	headers := map[string]string{"Content-Type": delivery}
	for _, s := range t.Subscribers() {
		if err := q.Enqueue(s.CallbackURL, headers, content); err != nil {
			return fmt.Errorf("enqueue for %s: %w", s.CallbackURL, err)
		}
	}

	t.mu.Lock()
	t.changed = false
	t.mu.Unlock()
	return nil
}

// deliveryContentType maps a parsed feed version like "atom10" or
// "rss20" to a delivery Content-Type.
func deliveryContentType(version string) (string, error) {
	for prefix, ct := range deliveryContentTypes {
		if strings.HasPrefix(version, prefix) {
			return ct, nil
		}
	}
	return "", &UnsupportedContentTypeError{Have: version}
}
