// Package model defines the persisted row types shared between the
// state repos and the runtime hub graph.
package model

// Topic is a persisted topic row. The hub is the authority for topic
// state; rows are written through on every mutating operation.
type Topic struct {
	URL          string
	Content      []byte
	ContentType  string // parsed feed version, e.g. "atom10"; "" until first fetch
	FetchedAtNs  int64  // 0 until the first successful fetch
	LastPingedNs int64
	Changed      bool
	Failed       bool
}

// Subscriber is a persisted subscriber row. Its topic memberships live
// in Subscription edges, not here.
type Subscriber struct {
	CallbackURL string
	CreatedAtNs int64
}

// Listener is a persisted listener row.
type Listener struct {
	CallbackURL string
	CreatedAtNs int64
}

// Subscription is a (topic, subscriber) edge. LeaseSeconds is accepted
// from the subscribe request and stored, but no expiry is enforced.
type Subscription struct {
	TopicURL     string
	CallbackURL  string
	LeaseSeconds int64
	CreatedAtNs  int64
}

// ListenerTopic records that a listener has been told about a topic.
type ListenerTopic struct {
	CallbackURL  string
	TopicURL     string
	NotifiedAtNs int64
}

// NotifyJob is one persisted delivery job in the notify queue. Seq is
// assigned by the store and defines FIFO order; a retried job gets a
// fresh Seq at the tail.
type NotifyJob struct {
	Seq          int64
	ID           string
	CallbackURL  string
	Headers      map[string]string
	Body         []byte
	MaxTries     int
	EnqueuedAtNs int64
}
